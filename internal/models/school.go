package models

import "github.com/noah-isme/mili-llama-api/internal/docstore"

type School struct {
	ID              string  `json:"id"`
	SchoolName      string  `json:"schoolName" validate:"required"`
	SchoolLogo      string  `json:"schoolLogo"`
	Address         string  `json:"address"`
	City            string  `json:"city"`
	State           string  `json:"state"`
	Zip             string  `json:"zip"`
	PhoneNumber     string  `json:"phoneNumber"`
	EmailAddress    string  `json:"emailAddress" validate:"omitempty,email"`
	Rating          float64 `json:"rating"`
	Website         string  `json:"website"`
	District        string  `json:"district"`
	PointOfContact  string  `json:"pointOfContact"`
	EmailAddress2   string  `json:"emailAddress2" validate:"omitempty,email"`
	PhoneNumber2    string  `json:"phoneNumber2"`
	PointOfContact2 string  `json:"pointOfContact2"`
	FunFact         string  `json:"funFact"`
	Domain          string  `json:"domain" validate:"required,fqdn"`
}

func SchoolFromDocument(doc docstore.Document) School {
	f := Fields(doc.Fields)
	return School{
		ID:              doc.ID,
		SchoolName:      f.String("schoolName"),
		SchoolLogo:      f.String("schoolLogo"),
		Address:         f.String("address"),
		City:            f.String("city"),
		State:           f.String("state"),
		Zip:             f.String("zip"),
		PhoneNumber:     f.String("phoneNumber"),
		EmailAddress:    f.String("emailAddress"),
		Rating:          f.Float("rating"),
		Website:         f.String("website"),
		District:        f.String("district"),
		PointOfContact:  f.String("pointOfContact"),
		EmailAddress2:   f.String("emailAddress2"),
		PhoneNumber2:    f.String("phoneNumber2"),
		PointOfContact2: f.String("pointOfContact2"),
		FunFact:         f.String("funFact"),
		Domain:          f.String("domain"),
	}
}

func (s School) Fields() map[string]any {
	return map[string]any{
		"schoolName":      s.SchoolName,
		"schoolLogo":      s.SchoolLogo,
		"address":         s.Address,
		"city":            s.City,
		"state":           s.State,
		"zip":             s.Zip,
		"phoneNumber":     s.PhoneNumber,
		"emailAddress":    s.EmailAddress,
		"rating":          s.Rating,
		"website":         s.Website,
		"district":        s.District,
		"pointOfContact":  s.PointOfContact,
		"emailAddress2":   s.EmailAddress2,
		"phoneNumber2":    s.PhoneNumber2,
		"pointOfContact2": s.PointOfContact2,
		"funFact":         s.FunFact,
		"domain":          s.Domain,
	}
}
