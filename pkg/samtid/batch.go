package samtid

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"
)

// Summary counts the reports of a batch.
type Summary map[Report]int

func (s Summary) String() string {
	parts := []string{}
	for r := ReportReconciled; r <= ReportFailed; r++ {
		if s[r] == 0 {
			continue
		}
		name, _, _ := strings.Cut(r.String(), ":")
		parts = append(parts, fmt.Sprintf("%s %s", humanize.Comma(int64(s[r])), name))
	}
	if len(parts) == 0 {
		return "nothing processed"
	}
	return strings.Join(parts, ", ")
}

// Batch reconciles files one at a time.
type Batch struct {
	c       *Config
	r       *Reconciler
	summary Summary
}

// NewBatch returns a batch that writes into c.OutDir using a.
func NewBatch(c *Config, a Accessor) *Batch {
	ft := c.Times
	if ft == nil {
		ft = OSTimes{}
	}
	return &Batch{
		c:       c,
		r:       &Reconciler{Accessor: a, Times: ft, OnBadDate: c.OnBadDate},
		summary: Summary{},
	}
}

// Process reconciles a single target. It only returns an error when the batch must stop.
func (b *Batch) Process(t Target) error {
	report := b.r.Reconcile(t)
	b.summary[report]++
	if report == ReportBadDate && b.c.OnBadDate == BadDateAbort {
		return fmt.Errorf("%w in %s", ErrBadDateAbort, t.InPath)
	}
	return nil
}

// Run processes targets in order.
func (b *Batch) Run(ts []Target) error {
	klog.Infof("reconciling %s files into %s ...", humanize.Comma(int64(len(ts))), b.c.OutDir)
	for _, t := range ts {
		if err := b.Process(t); err != nil {
			return err
		}
	}
	klog.Infof("done: %s", b.summary)
	return nil
}

// Summary returns the number of files per report.
func (b *Batch) Summary() Summary {
	return b.summary
}
