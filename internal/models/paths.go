package models

import (
	"path"
	"strings"
)

// Top-level collections.
const (
	CollectionSchools     = "Schools"
	CollectionTeachers    = "Teachers"
	CollectionAssignments = "Assignments"
	CollectionUsers       = "Users"
)

// ClassesCollection is the nested class collection of a school.
func ClassesCollection(schoolID string) string {
	return path.Join(CollectionSchools, schoolID, "Classes")
}

// AssignmentAttachmentPath is where a time-off attachment is stored. Personal
// requests have no class and live directly under the school.
func AssignmentAttachmentPath(schoolID, classID, assignmentID, fileName string) string {
	name := cleanFileName(fileName)
	if classID == "" {
		return path.Join(CollectionSchools, schoolID, "Assignments", assignmentID, name)
	}
	return path.Join(CollectionSchools, schoolID, "Classes", classID, "Assignments", assignmentID, name)
}

// ClassRosterPath is where an uploaded class roster is stored.
func ClassRosterPath(schoolID, classID, fileName string) string {
	return path.Join(CollectionSchools, schoolID, "Classes", classID, "Attachments", cleanFileName(fileName))
}

// SchoolAttachmentsPath lists the policy documents of a school.
func SchoolAttachmentsPath(schoolID string) string {
	return path.Join(CollectionSchools, schoolID, "Attachments")
}

// ProfilePicturePath is the fixed location of a teacher's avatar.
func ProfilePicturePath(uid string) string {
	return path.Join(CollectionTeachers, uid, "ProfilePicture", "profilePic.jpg")
}

// cleanFileName keeps only the last path element so uploaded names cannot
// escape their directory.
func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(path.Clean("/" + name))
	if base == "/" || base == "." || base == "" {
		return "file"
	}
	return base
}
