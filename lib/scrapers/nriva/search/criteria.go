package search

import (
	"fmt"
	"net/url"
)

// Criteria are the user-supplied search filters. Only Gender is required;
// nil fields are left out of the request entirely, because the backend
// treats an absent filter and an empty-string filter differently.
type Criteria struct {
	Gender         string  `json:"gender"`
	MinAge         *int    `json:"min_age"`
	MaxAge         *int    `json:"max_age"`
	Citizenship    *string `json:"citizenship"`
	EducationLevel *string `json:"education_level"`
	MaritalStatus  *string `json:"marital_status"`
}

// BuildSearchBody maps criteria onto the search endpoint's form
// vocabulary. Pure and deterministic; paging fields are added by the
// walker, not here.
func BuildSearchBody(c Criteria) url.Values {
	body := url.Values{}
	body.Set("gender", c.Gender)
	if c.MinAge != nil {
		body.Set("min_age", fmt.Sprint(*c.MinAge))
	}
	if c.MaxAge != nil {
		body.Set("max_age", fmt.Sprint(*c.MaxAge))
	}
	if c.Citizenship != nil {
		body.Set("citizenship", *c.Citizenship)
	}
	if c.EducationLevel != nil {
		body.Set("education_level", *c.EducationLevel)
	}
	if c.MaritalStatus != nil {
		body.Set("marital_status", *c.MaritalStatus)
	}
	return body
}
