package models

import (
	"time"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
)

// Starting leave balances, in hours, granted at onboarding.
const (
	DefaultSickHours = 40.0
	DefaultPTOHours  = 40.0
)

type Teacher struct {
	ID                     string      `json:"id"`
	FirstName              string      `json:"firstName"`
	LastName               string      `json:"lastName"`
	EmailAddress           string      `json:"emailAddress"`
	PhoneNumber            string      `json:"phoneNumber"`
	SchoolUID              string      `json:"schoolUid"`
	AssignedClasses        []string    `json:"assignedClasses"`
	TotalSickTimeAvailable float64     `json:"totalSickTimeAvailable"`
	TotalPTOAvailable      float64     `json:"totalPtoAvailable"`
	TotalUnpaidLeaveUsed   float64     `json:"totalUnpaidLeaveUsed"`
	ProfilePictureURL      string      `json:"profilePictureUrl"`
	Verified               bool        `json:"verified"`
	JoinDate               time.Time   `json:"joinDate"`
	UID                    string      `json:"uid"`
	PushToken              string      `json:"pushToken"`
	UpcomingDaysOff        []time.Time `json:"upcomingDaysOff"`
}

// FullName joins first and last name.
func (t Teacher) FullName() string {
	switch {
	case t.FirstName == "":
		return t.LastName
	case t.LastName == "":
		return t.FirstName
	}
	return t.FirstName + " " + t.LastName
}

func TeacherFromDocument(doc docstore.Document) Teacher {
	f := Fields(doc.Fields)
	return Teacher{
		ID:                     doc.ID,
		FirstName:              f.String("firstName"),
		LastName:               f.String("lastName"),
		EmailAddress:           f.String("emailAddress"),
		PhoneNumber:            f.String("phoneNumber"),
		SchoolUID:              f.String("schoolUid"),
		AssignedClasses:        f.StringSlice("assignedClasses"),
		TotalSickTimeAvailable: f.Float("totalSickTimeAvailable"),
		TotalPTOAvailable:      f.Float("totalPTOAvailable"),
		TotalUnpaidLeaveUsed:   f.Float("totalUnpaidLeaveUsed"),
		ProfilePictureURL:      f.String("profilePictureUrl"),
		Verified:               f.Bool("verified"),
		JoinDate:               f.Time("joinDate"),
		UID:                    f.String("uid"),
		PushToken:              f.String("pushToken"),
		UpcomingDaysOff:        f.TimeSlice("upcomingDaysOff"),
	}
}

func (t Teacher) Fields() map[string]any {
	classes := t.AssignedClasses
	if classes == nil {
		classes = []string{}
	}
	daysOff := t.UpcomingDaysOff
	if daysOff == nil {
		daysOff = []time.Time{}
	}
	return map[string]any{
		"firstName":              t.FirstName,
		"lastName":               t.LastName,
		"emailAddress":           t.EmailAddress,
		"phoneNumber":            t.PhoneNumber,
		"schoolUid":              t.SchoolUID,
		"assignedClasses":        classes,
		"totalSickTimeAvailable": t.TotalSickTimeAvailable,
		"totalPTOAvailable":      t.TotalPTOAvailable,
		"totalUnpaidLeaveUsed":   t.TotalUnpaidLeaveUsed,
		"profilePictureUrl":      t.ProfilePictureURL,
		"verified":               t.Verified,
		"joinDate":               t.JoinDate,
		"uid":                    t.UID,
		"pushToken":              t.PushToken,
		"upcomingDaysOff":        daysOff,
	}
}
