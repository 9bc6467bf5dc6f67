package models

import (
	"time"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
)

// RequestType is the leave balance a time-off request draws from.
type RequestType int

const (
	RequestTypeVacation RequestType = iota
	RequestTypeSickTime
	RequestTypeUnpaidLeave
)

// String returns the label shown to staff.
func (r RequestType) String() string {
	switch r {
	case RequestTypeSickTime:
		return "Sick Time"
	case RequestTypeUnpaidLeave:
		return "Unpaid Leave"
	default:
		return "Vacation"
	}
}

// Assignment is a time-off request. Requests tied to a class become
// substitute assignments once approved; an empty ClassID marks a personal
// request.
type Assignment struct {
	ID               string      `json:"id"`
	Date             time.Time   `json:"date"`
	ClassID          string      `json:"classId"`
	SchoolUID        string      `json:"schoolUid"`
	Rate             float64     `json:"rate"`
	AdditionalNotes  string      `json:"additionalNotes"`
	AssignedTo       string      `json:"assignedTo"`
	AssignedToUID    string      `json:"assignedToUid"`
	IsAvailable      bool        `json:"isAvailable"`
	InProgress       bool        `json:"inProgress"`
	Completed        bool        `json:"completed"`
	Attachments      []string    `json:"attachments"`
	ReviewScore      float64     `json:"reviewScore"`
	Cancelled        bool        `json:"cancelled"`
	CancelledBy      string      `json:"cancelledBy"`
	CreatedBy        string      `json:"createdBy"`
	PaymentProcessed bool        `json:"paymentProcessed"`
	Approved         bool        `json:"approved"`
	RequestType      RequestType `json:"requestType"`
	AdminApproved    bool        `json:"adminApproved"`
	AdminRejected    bool        `json:"adminRejected"`
	SubRequired      bool        `json:"subRequired"`
	FullDayOff       bool        `json:"fullDayOff"`
	StartTime        time.Time   `json:"startTime"`
	EndTime          time.Time   `json:"endTime"`
	PushToken        string      `json:"pushToken"`
}

// Personal reports whether the request is not tied to a class.
func (a Assignment) Personal() bool {
	return a.ClassID == ""
}

// AssignmentFromDocument never fails; missing or mistyped fields take their
// zero value and missing timestamps take the current time.
func AssignmentFromDocument(doc docstore.Document) Assignment {
	f := Fields(doc.Fields)
	return Assignment{
		ID:               doc.ID,
		Date:             f.Time("date"),
		ClassID:          f.String("classID"),
		SchoolUID:        f.String("schoolUID"),
		Rate:             f.Float("rate"),
		AdditionalNotes:  f.String("additionalNotes"),
		AssignedTo:       f.String("assignedTo"),
		AssignedToUID:    f.String("assignedToUID"),
		IsAvailable:      f.Bool("isAvailable"),
		InProgress:       f.Bool("inProgress"),
		Completed:        f.Bool("completed"),
		Attachments:      f.StringSlice("attachments"),
		ReviewScore:      f.Float("reviewScore"),
		Cancelled:        f.Bool("cancelled"),
		CancelledBy:      f.String("cancelledBy"),
		CreatedBy:        f.String("createdBy"),
		PaymentProcessed: f.Bool("paymentProcessed"),
		Approved:         f.Bool("approved"),
		RequestType:      RequestType(f.Int("requestType")),
		AdminApproved:    f.Bool("adminApproved"),
		AdminRejected:    f.Bool("adminRejected"),
		SubRequired:      f.Bool("subRequired"),
		FullDayOff:       f.Bool("fullDayOff"),
		StartTime:        f.Time("startTime"),
		EndTime:          f.Time("endTime"),
		PushToken:        f.String("pushToken"),
	}
}

// Fields renders the document body without the attachment field, which the
// create workflow patches in after upload.
func (a Assignment) Fields() map[string]any {
	return map[string]any{
		"date":             a.Date,
		"classID":          a.ClassID,
		"schoolUID":        a.SchoolUID,
		"rate":             a.Rate,
		"additionalNotes":  a.AdditionalNotes,
		"assignedTo":       a.AssignedTo,
		"assignedToUID":    a.AssignedToUID,
		"isAvailable":      a.IsAvailable,
		"inProgress":       a.InProgress,
		"completed":        a.Completed,
		"reviewScore":      a.ReviewScore,
		"cancelled":        a.Cancelled,
		"cancelledBy":      a.CancelledBy,
		"createdBy":        a.CreatedBy,
		"paymentProcessed": a.PaymentProcessed,
		"approved":         a.Approved,
		"requestType":      int(a.RequestType),
		"adminApproved":    a.AdminApproved,
		"adminRejected":    a.AdminRejected,
		"subRequired":      a.SubRequired,
		"fullDayOff":       a.FullDayOff,
		"startTime":        a.StartTime,
		"endTime":          a.EndTime,
		"pushToken":        a.PushToken,
	}
}

// Review states shown on the requests screen.
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
)

// Status derives the admin review state.
func (a Assignment) Status() string {
	switch {
	case a.AdminApproved && !a.AdminRejected:
		return StatusApproved
	case a.AdminRejected && !a.AdminApproved:
		return StatusRejected
	default:
		return StatusPending
	}
}
