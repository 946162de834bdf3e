package video_fetcher

// ProgressSnapshot is the latest known state of the active download. Fields not mentioned by a given line of tool
// output keep their previous values, so Speed, ETA and Filename may be empty until the tool reports them.
type ProgressSnapshot struct {
	Percentage float64 `json:"percentage"`
	Speed      string  `json:"speed"`
	ETA        string  `json:"eta"`
	Filename   string  `json:"filename"`
}

func (s ProgressSnapshot) IsZero() bool {
	return s == ProgressSnapshot{}
}
