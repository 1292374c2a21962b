package pipeline

import "testing"

func TestQuietHoursOvernightWrap(t *testing.T) {
	cases := []struct {
		hour int
		want bool
	}{
		{23, true},
		{5, true},
		{7, false},
		{22, true},
		{6, false},
	}

	for _, c := range cases {
		got := inQuietHours(c.hour, 22, 6)
		if got != c.want {
			t.Errorf("inQuietHours(%d, 22, 6) = %v, want %v", c.hour, got, c.want)
		}
	}
}

func TestQuietHoursDisabled(t *testing.T) {
	if inQuietHours(23, -1, -1) {
		t.Fatalf("expected quiet hours disabled when start/end are -1")
	}
}

func TestEmptyAllowedHoursMeansNoConstraint(t *testing.T) {
	s := &scheduleStage{opts: scheduleOpts{QuietStart: -1, QuietEnd: -1}}
	if !s.hourAllowed(3) {
		t.Fatalf("empty allowed_hours must impose no constraint")
	}
}
