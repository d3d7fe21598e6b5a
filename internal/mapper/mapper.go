// Package mapper normalizes France Travail search results into offres rows.
//
// Normalize is pure and never fails: a missing or oddly typed upstream field
// becomes a nil column, it never rejects the record.
package mapper

import (
	"encoding/json"
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"offresync/sync-service/internal/model"
)

// Column limits of the offres table.
const (
	maxTitle      = 255
	maxCompany    = 255
	maxLocation   = 255
	maxCity       = 255
	maxPostalCode = 20
	maxContract   = 120
	maxWorkTime   = 120
	maxExperience = 120
	maxEducation  = 255
	maxRomeCode   = 20
	maxRomeLabel  = 255
	maxSalaryText = 255
)

var (
	urlPattern = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.-]*://\S+`)
	stripTags  = bluemonday.StrictPolicy()
)

// Normalize maps one upstream listing onto the local schema. IsActive and
// LastSeenAt are left for the caller to stamp.
func Normalize(raw model.RawListing) model.Offer {
	o := raw.Fields
	lieu := object(o, "lieuTravail")
	entreprise := object(o, "entreprise")
	salaire := object(o, "salaire")

	salaryText := truncate(str(salaire, "libelle"), maxSalaryText)
	salMin, salMax := ParseMonthlySalary(deref(salaryText))

	return model.Offer{
		Provider:   model.ProviderFranceTravail,
		ExternalID: raw.ID,

		Title:       truncate(str(o, "intitule"), maxTitle),
		Description: sanitize(str(o, "description")),
		CompanyName: truncate(str(entreprise, "nom"), maxCompany),

		LocationLabel: truncate(str(lieu, "libelle"), maxLocation),
		City:          truncate(str(lieu, "commune"), maxCity),
		PostalCode:    truncate(str(lieu, "codePostal"), maxPostalCode),
		Latitude:      number(lieu, "latitude"),
		Longitude:     number(lieu, "longitude"),

		ContractType:   truncate(firstStr(o, "typeContratLibelle", "typeContrat"), maxContract),
		WorkTime:       truncate(firstStr(o, "dureeTravailLibelleConverti", "dureeTravailLibelle"), maxWorkTime),
		Experience:     truncate(str(o, "experienceLibelle"), maxExperience),
		EducationLevel: truncate(str(firstObject(o, "formations"), "niveauLibelle"), maxEducation),
		RomeCode:       truncate(str(o, "romeCode"), maxRomeCode),
		RomeLabel:      truncate(str(o, "romeLibelle"), maxRomeLabel),

		SalaryText:       salaryText,
		SalaryMinMonthly: salMin,
		SalaryMaxMonthly: salMax,

		SourceURL:       SourceURL(o),
		PublishedAt:     timestamp(o, "dateCreation"),
		UpdatedAtSource: timestamp(o, "dateActualisation"),

		SourcePayload: raw.Payload,
	}
}

// SourceURL picks the public link of a listing: the origin URL when present,
// else the first URL pasted into the contact e-mail or contact details.
func SourceURL(o map[string]any) *string {
	if u := str(object(o, "origineOffre"), "urlOrigine"); u != nil {
		return u
	}
	contact := object(o, "contact")
	for _, key := range []string{"courriel", "coordonnees1"} {
		if s := str(contact, key); s != nil {
			if m := urlPattern.FindString(*s); m != "" {
				return &m
			}
		}
	}
	return nil
}

func object(o map[string]any, key string) map[string]any {
	if o == nil {
		return nil
	}
	m, _ := o[key].(map[string]any)
	return m
}

func firstObject(o map[string]any, key string) map[string]any {
	if o == nil {
		return nil
	}
	list, _ := o[key].([]any)
	if len(list) == 0 {
		return nil
	}
	m, _ := list[0].(map[string]any)
	return m
}

// str returns the field as a trimmed string; numbers are formatted, anything
// else (objects, booleans, empty strings) is nil.
func str(o map[string]any, key string) *string {
	if o == nil {
		return nil
	}
	var s string
	switch v := o[key].(type) {
	case string:
		s = strings.TrimSpace(v)
	case json.Number:
		s = v.String()
	default:
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

func firstStr(o map[string]any, keys ...string) *string {
	for _, k := range keys {
		if s := str(o, k); s != nil {
			return s
		}
	}
	return nil
}

// number safe-parses a float field; NaN, infinities and junk are nil.
func number(o map[string]any, key string) *float64 {
	if o == nil {
		return nil
	}
	var (
		f   float64
		err error
	)
	switch v := o[key].(type) {
	case json.Number:
		f, err = v.Float64()
	case float64:
		f = v
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(strings.Replace(v, ",", ".", 1)), 64)
	default:
		return nil
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func timestamp(o map[string]any, key string) *time.Time {
	s := str(o, key)
	if s == nil {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, *s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// truncate cuts s to n runes so it fits a varchar(n) column.
func truncate(s *string, n int) *string {
	if s == nil || utf8.RuneCountInString(*s) <= n {
		return s
	}
	r := []rune(*s)
	cut := strings.TrimSpace(string(r[:n]))
	return &cut
}

func sanitize(s *string) *string {
	if s == nil {
		return nil
	}
	// StrictPolicy escapes entities; the column holds plain text.
	clean := strings.TrimSpace(html.UnescapeString(stripTags.Sanitize(*s)))
	if clean == "" {
		return nil
	}
	return &clean
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
