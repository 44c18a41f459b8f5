package profile

// Record is one extracted profile. Optional fields are pointers: a field
// the page simply does not show is nil, which is a valid value and not a
// failure.
type Record struct {
	Id            string `json:"id"`
	Name          string `json:"name"`
	Age           *int   `json:"age"`
	Gender        string `json:"gender"`
	MaritalStatus string `json:"marital_status"`
	Location      string `json:"location"`

	Email          *string `json:"email"`
	Phone          *string `json:"phone"`
	EducationLevel *string `json:"education_level"`
	Profession     *string `json:"profession"`
	Height         *string `json:"height"`
	ZodiacSign     *string `json:"zodiac_sign"`

	HoroscopeAvailable bool     `json:"horoscope_available"`
	ImageRefs          []string `json:"image_refs"`
	HoroscopeRef       *string  `json:"horoscope_ref"`

	// the page the record was extracted from, kept so the archive can
	// store the original document next to the structured data
	Raw []byte `json:"-"`
}

// MissingFields lists the attributes the page did not provide. A record
// with an empty result is fully populated; anything else counts as a
// partial success in the run summary.
func (r Record) MissingFields() []string {
	var missing []string
	add := func(name string, absent bool) {
		if absent {
			missing = append(missing, name)
		}
	}
	add("name", r.Name == "")
	add("age", r.Age == nil)
	add("gender", r.Gender == "")
	add("marital_status", r.MaritalStatus == "")
	add("location", r.Location == "")
	add("email", r.Email == nil)
	add("phone", r.Phone == nil)
	add("education_level", r.EducationLevel == nil)
	add("profession", r.Profession == nil)
	add("height", r.Height == nil)
	add("zodiac_sign", r.ZodiacSign == nil)
	return missing
}
