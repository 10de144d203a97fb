package gemini

// promptData is the data passed to a category's prompt template
type promptData struct {
	Name        string
	Category    string
	ExternalRef int64
}

// ResponseSchema is the JSON object the model is asked to return
type ResponseSchema struct {
	Summary string  `json:"summary"`
	Body    string  `json:"body"`
	Rating  float64 `json:"rating"`
}
