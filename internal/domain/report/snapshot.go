package report

import (
	"errors"
	"math"
	"time"
)

// ErrNegativeDraftCount is returned when the total count is lower than the submitted count.
var ErrNegativeDraftCount = errors.New("total count is lower than submitted count")

const day = 24 * time.Hour

// Window is the application period the report measures against.
type Window struct {
	OpenAt  time.Time
	CloseAt time.Time
}

// Rate is a show-up rate: the fraction of applicants expected to attend.
type Rate struct {
	Label  string
	ShowUp float64
}

// Default planning constants.
var (
	Rates           = []Rate{{Label: "MLH", ShowUp: 0.5}, {Label: "Konfer", ShowUp: 0.8}}
	AttendeeTargets = []int{1500, 2000}
)

// Attendance is the projected number of attendees at a given rate.
type Attendance struct {
	Rate  Rate
	Count float64
}

// Requirement describes what is needed to reach an attendee target at a given rate.
type Requirement struct {
	Attendees       int
	Rate            Rate
	AppsRequired    float64
	OverallPerDay   float64 // spread over the whole period
	RemainingPerDay float64 // spread over the days left
}

// Snapshot is the set of statistics computed for one report tick.
// It is built fresh each tick and never persisted.
type Snapshot struct {
	SubmittedCount  int64
	TotalCount      int64
	DaysUntilClose  int
	TotalPeriodDays int
	DaysElapsed     int

	OverallAppsPerDay float64
	CurrentAppsPerDay float64
	DraftsPerDay      float64

	ProjectedFinalCount float64
	ProjectedAttendance []Attendance
	Requirements        []Requirement
}

// NewSnapshot derives a snapshot from the two counts, the application window and the current time.
func NewSnapshot(submitted, total int64, window Window, now time.Time) (*Snapshot, error) {
	if submitted < 0 || total < submitted {
		return nil, ErrNegativeDraftCount
	}

	s := &Snapshot{
		SubmittedCount:  submitted,
		TotalCount:      total,
		DaysUntilClose:  WholeDays(window.CloseAt.Sub(now)),
		TotalPeriodDays: WholeDays(window.CloseAt.Sub(window.OpenAt)),
		DaysElapsed:     WholeDays(now.Sub(window.OpenAt)),
	}

	apps := float64(submitted)
	s.OverallAppsPerDay = ratio(apps, float64(s.TotalPeriodDays))
	s.CurrentAppsPerDay = ratio(apps, float64(s.DaysUntilClose))
	s.DraftsPerDay = ratio(float64(s.DraftCount()), float64(s.DaysUntilClose))

	s.ProjectedFinalCount = apps
	if s.DaysElapsed > 0 && s.DaysUntilClose > 0 {
		s.ProjectedFinalCount += apps / float64(s.DaysElapsed) * float64(s.DaysUntilClose)
	}
	for _, r := range Rates {
		s.ProjectedAttendance = append(s.ProjectedAttendance, Attendance{Rate: r, Count: s.ProjectedFinalCount * r.ShowUp})
	}

	for _, r := range Rates {
		for _, target := range AttendeeTargets {
			required := float64(target) / r.ShowUp
			s.Requirements = append(s.Requirements, Requirement{
				Attendees:       target,
				Rate:            r,
				AppsRequired:    required,
				OverallPerDay:   ratio(required, float64(s.TotalPeriodDays)),
				RemainingPerDay: ratio(required, float64(s.DaysUntilClose)),
			})
		}
	}
	return s, nil
}

// DraftCount is the number of started but unsubmitted applications.
func (s *Snapshot) DraftCount() int64 {
	return s.TotalCount - s.SubmittedCount
}

// WholeDays floors a duration to whole days. Negative durations floor away from zero.
func WholeDays(d time.Duration) int {
	return int(math.Floor(float64(d) / float64(day)))
}

// ratio returns NaN instead of an infinity when the period has run out.
func ratio(num, den float64) float64 {
	if den <= 0 {
		return math.NaN()
	}
	return num / den
}
