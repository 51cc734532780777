package models

import "time"

// SurveyKind names the object type a survey rates.
type SurveyKind string

const (
	SurveyRepository SurveyKind = "repository"
	SurveyCollection SurveyKind = "collection"
)

// Survey is a community rating. Every answer is optional and on a 1..5 scale.
type Survey struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user"`
	Kind             SurveyKind `json:"kind"`
	ObjectID         int64      `json:"object_id"`
	Docs             *int       `json:"docs"`
	EaseOfUse        *int       `json:"ease_of_use"`
	DoesWhatItSays   *int       `json:"does_what_it_says"`
	WorksAsIs        *int       `json:"works_as_is"`
	UsedInProduction *int       `json:"used_in_production"`
	Created          time.Time  `json:"created"`
	Modified         time.Time  `json:"modified"`
}

func (s *Survey) answers() []*int {
	return []*int{s.Docs, s.EaseOfUse, s.DoesWhatItSays, s.WorksAsIs, s.UsedInProduction}
}

// Score is the mean of the answered questions, or nil when nothing was answered.
func (s *Survey) Score() *float64 {
	var sum, n int
	for _, a := range s.answers() {
		if a != nil {
			sum += *a
			n++
		}
	}
	if n == 0 {
		return nil
	}
	score := float64(sum) / float64(n)
	return &score
}

// Valid reports whether all answered questions are in range.
func (s *Survey) Valid() bool {
	for _, a := range s.answers() {
		if a != nil && (*a < 1 || *a > 5) {
			return false
		}
	}
	return true
}

// CommunityScore returns the mean score of surveys that answered anything,
// and the number of surveys counted.
func CommunityScore(surveys []*Survey) (*float64, int) {
	var total float64
	var n int
	for _, s := range surveys {
		if score := s.Score(); score != nil {
			total += *score
			n++
		}
	}
	if n == 0 {
		return nil, 0
	}
	mean := total / float64(n)
	return &mean, n
}
