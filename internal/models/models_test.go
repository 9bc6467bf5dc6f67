package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
)

func freezeNow(t *testing.T, at time.Time) {
	t.Helper()
	prev := Now
	Now = func() time.Time { return at }
	t.Cleanup(func() { Now = prev })
}

func TestAssignmentFromDocumentDefaultsMissingFields(t *testing.T) {
	frozen := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	freezeNow(t, frozen)

	a := AssignmentFromDocument(docstore.Document{ID: "a1", Fields: map[string]any{
		"classID":     "c1",
		"approved":    "yes",
		"reviewScore": "not a number",
	}})

	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, "c1", a.ClassID)
	assert.Equal(t, 0.0, a.Rate)
	assert.Equal(t, 0.0, a.ReviewScore)
	assert.False(t, a.Approved)
	assert.False(t, a.IsAvailable)
	assert.Equal(t, frozen, a.Date)
	assert.Equal(t, []string{}, a.Attachments)
	assert.Equal(t, RequestTypeVacation, a.RequestType)
}

func TestAssignmentFromDocumentAcceptsAnyNumericKind(t *testing.T) {
	a := AssignmentFromDocument(docstore.Document{Fields: map[string]any{
		"rate":        int64(45),
		"reviewScore": float32(4.5),
		"requestType": 1.0,
	}})
	assert.Equal(t, 45.0, a.Rate)
	assert.InDelta(t, 4.5, a.ReviewScore, 1e-6)
	assert.Equal(t, RequestTypeSickTime, a.RequestType)
	assert.Equal(t, "Sick Time", a.RequestType.String())
}

func TestNarrowIntegerKindsMatchFilters(t *testing.T) {
	for _, rate := range []any{int8(3), int16(3), uint8(3), uint16(3)} {
		doc := docstore.Document{Fields: map[string]any{"rate": rate}}
		a := AssignmentFromDocument(doc)
		assert.Equal(t, 3.0, a.Rate, "%T", rate)
		assert.True(t, docstore.Filters{"rate": 3}.Matches(doc.Fields), "%T", rate)
	}
}

func TestAssignmentAttachmentsAcceptLegacyString(t *testing.T) {
	a := AssignmentFromDocument(docstore.Document{Fields: map[string]any{"attachments": "https://files/a.pdf"}})
	assert.Equal(t, []string{"https://files/a.pdf"}, a.Attachments)

	b := AssignmentFromDocument(docstore.Document{Fields: map[string]any{"attachments": []any{"x", 3, "y"}}})
	assert.Equal(t, []string{"x", "y"}, b.Attachments)
}

func TestAssignmentFieldsOmitAttachments(t *testing.T) {
	fields := Assignment{ClassID: "c1", Attachments: []string{"u"}}.Fields()
	_, ok := fields["attachments"]
	assert.False(t, ok)
	assert.Equal(t, "c1", fields["classID"])
}

func TestComputeDuration(t *testing.T) {
	start := time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 9, 2, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, 1.5, ComputeDuration(start, end))

	var c Class
	c.SetTimes(start, end)
	assert.Equal(t, 1.5, c.Duration)
}

func TestClassFromDocumentReadsTimestamps(t *testing.T) {
	start := time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC)
	c := ClassFromDocument(docstore.Document{ID: "c1", Fields: map[string]any{
		"className":        "Biology",
		"numberOfStudents": int64(24),
		"classStartTime":   start.Format(time.RFC3339),
		"classEndTime":     start.Add(90 * time.Minute).UnixMilli(),
		"duration":         1.5,
	}})
	assert.Equal(t, 24, c.NumberOfStudents)
	assert.True(t, start.Equal(c.ClassStartTime))
	assert.True(t, start.Add(90*time.Minute).Equal(c.ClassEndTime))
	assert.Empty(t, c.ClassRosterURL)
}

func TestTeacherRoundTripKeepsBalances(t *testing.T) {
	joined := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	teacher := Teacher{
		FirstName:              "Ada",
		SchoolUID:              "s1",
		TotalSickTimeAvailable: DefaultSickHours,
		TotalPTOAvailable:      DefaultPTOHours,
		JoinDate:               joined,
	}
	got := TeacherFromDocument(docstore.Document{ID: "t1", Fields: teacher.Fields()})
	assert.Equal(t, 40.0, got.TotalSickTimeAvailable)
	assert.Equal(t, 40.0, got.TotalPTOAvailable)
	assert.Equal(t, "s1", got.SchoolUID)
	assert.Equal(t, joined, got.JoinDate)
	assert.Equal(t, []string{}, got.AssignedClasses)
	assert.Equal(t, "Ada", got.FullName())
}

func TestTeacherUpcomingDaysOffSkipsGarbage(t *testing.T) {
	day := time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	got := TeacherFromDocument(docstore.Document{Fields: map[string]any{
		"upcomingDaysOff": []any{day, "nope", day.Format(time.RFC3339)},
	}})
	require.Len(t, got.UpcomingDaysOff, 2)
}

func TestStoragePaths(t *testing.T) {
	assert.Equal(t, "Schools/s1/Classes", ClassesCollection("s1"))
	assert.Equal(t, "Schools/s1/Classes/c1/Assignments/a1/note.pdf", AssignmentAttachmentPath("s1", "c1", "a1", "note.pdf"))
	assert.Equal(t, "Schools/s1/Assignments/a1/note.pdf", AssignmentAttachmentPath("s1", "", "a1", "note.pdf"))
	assert.Equal(t, "Schools/s1/Classes/c1/Attachments/roster.csv", ClassRosterPath("s1", "c1", "../../roster.csv"))
	assert.Equal(t, "Teachers/u1/ProfilePicture/profilePic.jpg", ProfilePicturePath("u1"))
	assert.Equal(t, "Schools/s1/Attachments", SchoolAttachmentsPath("s1"))
	assert.Equal(t, "Schools/s1/Classes/c1/Attachments/file", ClassRosterPath("s1", "c1", ""))
}
