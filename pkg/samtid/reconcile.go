package samtid

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"k8s.io/klog/v2"

	"github.com/tstromberg/samtid/pkg/exifdir"
)

// Report is the outcome of reconciling one file.
type Report int

const (
	// ReportReconciled means all three timestamps were written, or the output already existed.
	ReportReconciled Report = iota
	// ReportSkipped means the filesystem timestamps were unset and nothing was written.
	ReportSkipped
	// ReportPartial means at least one of the three writes failed.
	ReportPartial
	// ReportBadDate means the embedded capture time could not be parsed.
	ReportBadDate
	// ReportFailed means the image could not be opened.
	ReportFailed
)

func (r Report) String() string {
	switch r {
	case ReportReconciled:
		return "reconciled"
	case ReportSkipped:
		return "skipped: invalid base timestamps"
	case ReportPartial:
		return "partial failure"
	case ReportBadDate:
		return "malformed capture time"
	case ReportFailed:
		return "failed"
	}
	return fmt.Sprintf("report(%d)", int(r))
}

// Earliest returns the earliest of its arguments. Of two equal times, the first one wins.
func Earliest(first time.Time, rest ...time.Time) time.Time {
	e := first
	for _, t := range rest {
		if t.Before(e) {
			e = t
		}
	}
	return e
}

// Reconciler writes the earliest known timestamp of an image to all of its timestamps.
type Reconciler struct {
	Accessor  Accessor
	Times     FileTimes
	OnBadDate BadDatePolicy
}

// Reconcile reconciles one file. Failures are logged and summarized in the report.
func (r *Reconciler) Reconcile(t Target) Report {
	report, err := r.reconcile(t)
	switch report {
	case ReportPartial:
		klog.Warningf("partial failure for %s: %v", t, err)
	case ReportFailed, ReportBadDate:
		klog.Errorf("%s: %s: %v", t, report, err)
	case ReportSkipped:
		klog.Infof("%s: %s", t, report)
	}
	return report
}

func (r *Reconciler) reconcile(t Target) (Report, error) {
	fst, err := r.Times.Stat(t.InPath)
	if err != nil {
		return ReportFailed, err
	}
	if fst.Created.IsZero() || fst.Modified.IsZero() {
		return ReportSkipped, nil
	}

	img, err := r.Accessor.Open(t)
	if err != nil {
		return ReportFailed, err
	}
	defer img.Close()

	candidates := []time.Time{fst.Modified}
	capture, ok, err := img.CaptureTime()
	var pe *exifdir.ParseError
	switch {
	case errors.As(err, &pe) && r.OnBadDate == BadDateAbsent:
		klog.V(1).Infof("%s: ignoring capture time: %v", t, err)
	case err != nil:
		return ReportBadDate, err
	case ok:
		candidates = append(candidates, capture)
	}

	date := Earliest(fst.Created, candidates...).Truncate(time.Second)
	klog.V(1).Infof("%s: created=%s modified=%s capture=%s -> %s", t,
		fst.Created.Format(exifdir.DateLayout), fst.Modified.Format(exifdir.DateLayout), formatCapture(capture, ok), date.Format(exifdir.DateLayout))

	var errs error
	err = img.SetCaptureTime(date)
	switch {
	case errors.Is(err, ErrOutputExists):
		// the existing output keeps the timestamps it was written with
		klog.V(1).Infof("%s: %v, leaving it alone", t, err)
		return ReportReconciled, nil
	case err != nil:
		errs = multierror.Append(errs, fmt.Errorf("set capture time: %w", err))
	}
	if err := r.Times.SetCreated(t.OutPath, date); err != nil {
		if errors.Is(err, errors.ErrUnsupported) {
			klog.V(1).Infof("%s: cannot set creation time on this platform", t.OutPath)
		} else {
			errs = multierror.Append(errs, fmt.Errorf("set created: %w", err))
		}
	}
	if err := r.Times.SetModified(t.OutPath, date); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("set modified: %w", err))
	}

	if errs != nil {
		return ReportPartial, errs
	}
	klog.Infof("%s -> %s: %s", t.InPath, t.OutPath, date.Format(exifdir.DateLayout))
	return ReportReconciled, nil
}

func formatCapture(t time.Time, ok bool) string {
	if !ok {
		return "none"
	}
	return t.Format(exifdir.DateLayout)
}
