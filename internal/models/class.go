package models

import (
	"time"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
)

// Class is a teaching slot owned by a school.
type Class struct {
	ID               string    `json:"id"`
	ClassName        string    `json:"className"`
	ClassSubject     string    `json:"classSubject"`
	NumberOfStudents int       `json:"numberOfStudents"`
	SchoolUID        string    `json:"schoolUid"`
	TeacherUID       string    `json:"teacherUid"`
	ClassRosterURL   string    `json:"classRosterUrl"`
	ClassStartTime   time.Time `json:"classStartTime"`
	ClassEndTime     time.Time `json:"classEndTime"`
	Duration         float64   `json:"duration"`
}

// ComputeDuration returns the hours between start and end.
func ComputeDuration(start, end time.Time) float64 {
	return end.Sub(start).Hours()
}

// SetTimes updates the schedule and keeps Duration in step with it.
func (c *Class) SetTimes(start, end time.Time) {
	c.ClassStartTime = start
	c.ClassEndTime = end
	c.Duration = ComputeDuration(start, end)
}

func ClassFromDocument(doc docstore.Document) Class {
	f := Fields(doc.Fields)
	return Class{
		ID:               doc.ID,
		ClassName:        f.String("className"),
		ClassSubject:     f.String("classSubject"),
		NumberOfStudents: f.Int("numberOfStudents"),
		SchoolUID:        f.String("schoolUID"),
		TeacherUID:       f.String("teacherUID"),
		ClassRosterURL:   f.String("classRosterURL"),
		ClassStartTime:   f.Time("classStartTime"),
		ClassEndTime:     f.Time("classEndTime"),
		Duration:         f.Float("duration"),
	}
}

// Fields omits classRosterURL; the roster link is patched in after upload.
func (c Class) Fields() map[string]any {
	return map[string]any{
		"className":        c.ClassName,
		"classSubject":     c.ClassSubject,
		"numberOfStudents": c.NumberOfStudents,
		"schoolUID":        c.SchoolUID,
		"teacherUID":       c.TeacherUID,
		"classStartTime":   c.ClassStartTime,
		"classEndTime":     c.ClassEndTime,
		"duration":         c.Duration,
	}
}
