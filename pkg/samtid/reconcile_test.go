package samtid

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tstromberg/samtid/internal/testutil"
)

// fakeTimes serves filesystem timestamps from memory. Modification times are also
// written to disk so that output files can be inspected.
type fakeTimes struct {
	mu         sync.Mutex
	stat       map[string]Times
	def        Times
	set        map[string]Times
	createdErr error
}

func newFakeTimes(def Times) *fakeTimes {
	return &fakeTimes{stat: map[string]Times{}, def: def, set: map[string]Times{}}
}

func (f *fakeTimes) Stat(path string) (Times, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return Times{}, err
	}
	if t, ok := f.stat[path]; ok {
		return t, nil
	}
	return f.def, nil
}

func (f *fakeTimes) SetCreated(path string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createdErr != nil {
		return f.createdErr
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	s := f.set[path]
	s.Created = t
	f.set[path] = s
	return nil
}

func (f *fakeTimes) SetModified(path string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Chtimes(path, time.Time{}, t); err != nil {
		return err
	}
	s := f.set[path]
	s.Modified = t
	f.set[path] = s
	return nil
}

func (f *fakeTimes) written(path string) (Times, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.set[path]
	return t, ok
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

func captureOf(t *testing.T, path string) (time.Time, bool) {
	t.Helper()
	img, err := (&NativeAccessor{}).Open(Target{InPath: path})
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer img.Close()
	ct, ok, err := img.CaptureTime()
	if err != nil {
		t.Fatalf("capture time of %s: %v", path, err)
	}
	return ct, ok
}

func TestEarliest(t *testing.T) {
	a := day(2019, 1, 1)
	b := day(2020, 5, 1)
	c := day(2020, 6, 1)

	tests := []struct {
		name  string
		first time.Time
		rest  []time.Time
		want  time.Time
	}{
		{"single", b, nil, b},
		{"created earliest", b, []time.Time{c}, b},
		{"modified earliest", c, []time.Time{b}, b},
		{"capture earliest", b, []time.Time{c, a}, a},
		{"capture latest", a, []time.Time{b, c}, a},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Earliest(tc.first, tc.rest...); !got.Equal(tc.want) {
				t.Errorf("Earliest = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestEarliestTieKeepsFirst(t *testing.T) {
	utc := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	other := utc.In(time.FixedZone("X", 3600))

	got := Earliest(utc, other)
	if got.Location() != time.UTC {
		t.Errorf("Earliest(utc, other) location = %s, want UTC", got.Location())
	}
	got = Earliest(other, utc)
	if got.Location() != other.Location() {
		t.Errorf("Earliest(other, utc) location = %s, want X", got.Location())
	}
}

func TestReconcile(t *testing.T) {
	base := Times{Created: day(2020, 5, 1), Modified: day(2020, 6, 1)}

	tests := []struct {
		name      string
		data      func(t *testing.T) []byte
		times     Times
		onBadDate BadDatePolicy
		want      Report
		wantDate  time.Time // zero when nothing must be written
	}{
		{
			name:     "no capture field",
			data:     func(t *testing.T) []byte { return testutil.JPEG(t, testutil.Directory(t, "")) },
			times:    base,
			want:     ReportReconciled,
			wantDate: day(2020, 5, 1),
		},
		{
			name:     "capture earliest",
			data:     func(t *testing.T) []byte { return testutil.JPEG(t, testutil.Directory(t, "2019:01:01 00:00:00")) },
			times:    base,
			want:     ReportReconciled,
			wantDate: day(2019, 1, 1),
		},
		{
			name:     "modified earliest",
			data:     func(t *testing.T) []byte { return testutil.PNG(t, testutil.Directory(t, "2021:01:01 00:00:00")) },
			times:    Times{Created: day(2020, 6, 1), Modified: day(2020, 5, 1)},
			want:     ReportReconciled,
			wantDate: day(2020, 5, 1),
		},
		{
			name:  "created unset",
			data:  func(t *testing.T) []byte { return testutil.JPEG(t, testutil.Directory(t, "")) },
			times: Times{Modified: day(2020, 6, 1)},
			want:  ReportSkipped,
		},
		{
			name:  "modified unset",
			data:  func(t *testing.T) []byte { return testutil.JPEG(t, testutil.Directory(t, "")) },
			times: Times{Created: day(2020, 6, 1)},
			want:  ReportSkipped,
		},
		{
			name:  "malformed capture skipped",
			data:  func(t *testing.T) []byte { return testutil.JPEG(t, testutil.Directory(t, "2019-01-01 00:00:00")) },
			times: base,
			want:  ReportBadDate,
		},
		{
			name:      "malformed capture absent",
			data:      func(t *testing.T) []byte { return testutil.JPEG(t, testutil.Directory(t, "2019-01-01 00:00:00")) },
			times:     base,
			onBadDate: BadDateAbsent,
			want:      ReportReconciled,
			wantDate:  day(2020, 5, 1),
		},
		{
			name:  "gif has no slot",
			data:  func(t *testing.T) []byte { return testutil.GIF(t) },
			times: base,
			want:  ReportPartial,
		},
		{
			name:  "not an image",
			data:  func(*testing.T) []byte { return []byte("plain text") },
			times: base,
			want:  ReportFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in, out := t.TempDir(), t.TempDir()
			p := testutil.WriteFile(t, in, "photo.jpg", tc.data(t), time.Time{})
			target := Target{InPath: p, OutPath: OutputPath(out, p)}

			ft := newFakeTimes(tc.times)
			r := &Reconciler{Accessor: &NativeAccessor{}, Times: ft, OnBadDate: tc.onBadDate}
			if got := r.Reconcile(target); got != tc.want {
				t.Errorf("Reconcile = %s, want %s", got, tc.want)
			}

			_, err := os.Stat(target.OutPath)
			if tc.wantDate.IsZero() {
				if err == nil {
					t.Errorf("%s was written", target.OutPath)
				}
				return
			}
			if err != nil {
				t.Fatalf("output: %v", err)
			}

			got, ok := ft.written(target.OutPath)
			if !ok {
				t.Fatalf("no filesystem times were set on %s", target.OutPath)
			}
			if diff := cmp.Diff(Times{Created: tc.wantDate, Modified: tc.wantDate}, got); diff != "" {
				t.Errorf("filesystem times (-want +got):\n%s", diff)
			}

			ct, ok := captureOf(t, target.OutPath)
			if !ok || !ct.Equal(tc.wantDate) {
				t.Errorf("capture time = %s (present %v), want %s", ct, ok, tc.wantDate)
			}

			fi, err := os.Stat(target.OutPath)
			if err != nil {
				t.Fatalf("stat: %v", err)
			}
			if !fi.ModTime().Equal(tc.wantDate) {
				t.Errorf("mtime = %s, want %s", fi.ModTime(), tc.wantDate)
			}
		})
	}
}

func TestReconcileCreatedUnsupported(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	p := testutil.WriteFile(t, in, "a.jpg", testutil.JPEG(t, testutil.Directory(t, "")), time.Time{})

	ft := newFakeTimes(Times{Created: day(2020, 5, 1), Modified: day(2020, 6, 1)})
	ft.createdErr = errors.ErrUnsupported
	r := &Reconciler{Accessor: &NativeAccessor{}, Times: ft}
	if got := r.Reconcile(Target{InPath: p, OutPath: filepath.Join(out, "a.jpg")}); got != ReportReconciled {
		t.Errorf("Reconcile = %s, want %s", got, ReportReconciled)
	}

	ft.createdErr = errors.New("permission denied")
	if got := r.Reconcile(Target{InPath: p, OutPath: filepath.Join(out, "b.jpg")}); got != ReportPartial {
		t.Errorf("Reconcile = %s, want %s", got, ReportPartial)
	}
}

func TestReconcileKeepsExistingOutput(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	p := testutil.WriteFile(t, in, "a.jpg", testutil.JPEG(t, testutil.Directory(t, "")), time.Time{})
	target := Target{InPath: p, OutPath: OutputPath(out, p)}

	ft := newFakeTimes(Times{Created: day(2020, 5, 1), Modified: day(2020, 6, 1)})
	r := &Reconciler{Accessor: &NativeAccessor{}, Times: ft}
	if got := r.Reconcile(target); got != ReportReconciled {
		t.Fatalf("first Reconcile = %s", got)
	}

	// the input was touched since, the output must still match its embedded date
	ft.def = Times{Created: day(2019, 1, 1), Modified: day(2019, 2, 1)}
	if got := r.Reconcile(target); got != ReportReconciled {
		t.Errorf("second Reconcile = %s, want %s", got, ReportReconciled)
	}

	want := day(2020, 5, 1)
	got, _ := ft.written(target.OutPath)
	if !got.Created.Equal(want) || !got.Modified.Equal(want) {
		t.Errorf("filesystem times = %+v, want %s", got, want)
	}
	fi, err := os.Stat(target.OutPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !fi.ModTime().Equal(want) {
		t.Errorf("output mtime = %s, want %s", fi.ModTime(), want)
	}
	if ct, _ := captureOf(t, target.OutPath); !ct.Equal(want) {
		t.Errorf("capture time = %s, want %s", ct, want)
	}
}

func TestReconcileSubsecond(t *testing.T) {
	in, out := t.TempDir(), t.TempDir()
	p := testutil.WriteFile(t, in, "a.png", testutil.PNG(t, testutil.Directory(t, "")), time.Time{})

	created := time.Date(2020, 5, 1, 10, 11, 12, 999999999, time.Local)
	ft := newFakeTimes(Times{Created: created, Modified: day(2020, 6, 1)})
	target := Target{InPath: p, OutPath: OutputPath(out, p)}
	if got := (&Reconciler{Accessor: &NativeAccessor{}, Times: ft}).Reconcile(target); got != ReportReconciled {
		t.Fatalf("Reconcile = %s", got)
	}

	want := created.Truncate(time.Second)
	got, _ := ft.written(target.OutPath)
	if !got.Created.Equal(want) || !got.Modified.Equal(want) {
		t.Errorf("filesystem times = %+v, want %s", got, want)
	}
	if ct, _ := captureOf(t, target.OutPath); !ct.Equal(want) {
		t.Errorf("capture time = %s, want %s", ct, want)
	}
}

func TestReportString(t *testing.T) {
	if got := ReportSkipped.String(); got != "skipped: invalid base timestamps" {
		t.Errorf("ReportSkipped = %q", got)
	}
	if got := Report(42).String(); got != "report(42)" {
		t.Errorf("Report(42) = %q", got)
	}
}
