package samtid

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tstromberg/samtid/internal/testutil"
)

type snapshot struct {
	Data    string
	ModTime time.Time
}

func snapshotDir(t *testing.T, dir string) map[string]snapshot {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	s := map[string]snapshot{}
	for _, e := range entries {
		p := filepath.Join(dir, e.Name())
		fi, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		s[e.Name()] = snapshot{Data: string(mustRead(t, p)), ModTime: fi.ModTime()}
	}
	return s
}

func TestBatchIdempotent(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	testutil.WriteFile(t, in, "a.jpg", testutil.JPEG(t, testutil.Directory(t, "2019:01:01 00:00:00")), time.Time{})
	testutil.WriteFile(t, in, "b.png", testutil.PNG(t, testutil.Directory(t, "")), time.Time{})
	testutil.WriteFile(t, in, "c.txt", []byte("ignored"), time.Time{})

	ft := newFakeTimes(Times{Created: day(2020, 5, 1), Modified: day(2020, 6, 1)})
	c := &Config{InPath: in, OutDir: out, Times: ft}

	run := func() Summary {
		ts, err := Targets(c)
		if err != nil {
			t.Fatalf("Targets: %v", err)
		}
		b := NewBatch(c, &NativeAccessor{})
		if err := b.Run(ts); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return b.Summary()
	}

	if diff := cmp.Diff(Summary{ReportReconciled: 2}, run()); diff != "" {
		t.Errorf("first run summary (-want +got):\n%s", diff)
	}
	first := snapshotDir(t, out)
	if len(first) != 2 {
		t.Fatalf("first run wrote %d files, want 2", len(first))
	}

	if diff := cmp.Diff(Summary{ReportReconciled: 2}, run()); diff != "" {
		t.Errorf("second run summary (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(first, snapshotDir(t, out)); diff != "" {
		t.Errorf("second run changed the output (-first +second):\n%s", diff)
	}
}

func TestBatchSkipsUnsetTimes(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	good := testutil.WriteFile(t, in, "good.jpg", testutil.JPEG(t, testutil.Directory(t, "")), time.Time{})
	unset := testutil.WriteFile(t, in, "unset.jpg", testutil.JPEG(t, testutil.Directory(t, "")), time.Time{})

	ft := newFakeTimes(Times{Created: day(2020, 5, 1), Modified: day(2020, 6, 1)})
	ft.stat[unset] = Times{Created: present(time.Unix(0, 0)), Modified: day(2020, 6, 1)}
	c := &Config{InPath: in, OutDir: out, Times: ft}

	b := NewBatch(c, &NativeAccessor{})
	if err := b.Run([]Target{
		{InPath: good, OutPath: OutputPath(out, good)},
		{InPath: unset, OutPath: OutputPath(out, unset)},
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if diff := cmp.Diff(Summary{ReportReconciled: 1, ReportSkipped: 1}, b.Summary()); diff != "" {
		t.Errorf("summary (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(OutputPath(out, unset)); err == nil {
		t.Errorf("file with unset timestamps was written")
	}
}

func TestBatchBadDate(t *testing.T) {
	tests := []struct {
		policy  BadDatePolicy
		wantErr error
		want    Summary
	}{
		{BadDateSkip, nil, Summary{ReportBadDate: 1, ReportReconciled: 1}},
		{BadDateAbsent, nil, Summary{ReportReconciled: 2}},
		{BadDateAbort, ErrBadDateAbort, Summary{ReportBadDate: 1}},
	}

	for _, tc := range tests {
		t.Run(tc.policy.String(), func(t *testing.T) {
			in, out := t.TempDir(), t.TempDir()
			bad := testutil.WriteFile(t, in, "a.jpg", testutil.JPEG(t, testutil.Directory(t, "2019:01:01 00-00-00")), time.Time{})
			good := testutil.WriteFile(t, in, "b.jpg", testutil.JPEG(t, testutil.Directory(t, "")), time.Time{})

			ft := newFakeTimes(Times{Created: day(2020, 5, 1), Modified: day(2020, 6, 1)})
			c := &Config{InPath: in, OutDir: out, Times: ft, OnBadDate: tc.policy}
			b := NewBatch(c, &NativeAccessor{})
			err := b.Run([]Target{
				{InPath: bad, OutPath: OutputPath(out, bad)},
				{InPath: good, OutPath: OutputPath(out, good)},
			})
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Run err = %v, want %v", err, tc.wantErr)
			}
			if diff := cmp.Diff(tc.want, b.Summary()); diff != "" {
				t.Errorf("summary (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseBadDatePolicy(t *testing.T) {
	for _, p := range []BadDatePolicy{BadDateSkip, BadDateAbsent, BadDateAbort} {
		got, err := ParseBadDatePolicy(p.String())
		if err != nil || got != p {
			t.Errorf("ParseBadDatePolicy(%q) = %v, %v", p, got, err)
		}
	}
	if _, err := ParseBadDatePolicy("ignore"); err == nil {
		t.Errorf("ParseBadDatePolicy(ignore) succeeded")
	}
}

func TestSummaryString(t *testing.T) {
	s := Summary{ReportReconciled: 1234, ReportSkipped: 2, ReportFailed: 1}
	if got, want := s.String(), "1,234 reconciled, 2 skipped, 1 failed"; got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
	if got := (Summary{}).String(); got != "nothing processed" {
		t.Errorf("empty String = %q", got)
	}
}
