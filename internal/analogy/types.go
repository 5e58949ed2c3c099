package analogy

// Content is the structured analogy document the backend generates:
// three chapters of prose with a pull quote each, plus a summary and
// related links.
type Content struct {
	Title            string `json:"title"`
	Chapter1Section1 string `json:"chapter1section1"`
	Chapter1Quote    string `json:"chapter1quote"`
	Chapter1Section2 string `json:"chapter1section2"`
	Chapter2Section1 string `json:"chapter2section1"`
	Chapter2Quote    string `json:"chapter2quote"`
	Chapter2Section2 string `json:"chapter2section2"`
	Chapter3Section1 string `json:"chapter3section1"`
	Chapter3Quote    string `json:"chapter3quote"`
	Chapter3Section2 string `json:"chapter3section2"`
	Summary          string `json:"summary"`
	SearchQuery      string `json:"searchQuery"`
	VideoLinks       []Link `json:"videoLinks,omitempty"`
	TextLinks        []Link `json:"textLinks,omitempty"`
}

// Link is a related video or article surfaced alongside an analogy.
type Link struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Published   string `json:"published,omitempty"`
	Source      string `json:"source,omitempty"`
	Publisher   string `json:"publisher,omitempty"`
	Creator     string `json:"creator,omitempty"`
}

// Analogy is one generated analogy as stored by the backend. Each
// analogy carries one illustration per chapter.
type Analogy struct {
	ID               string   `json:"id"`
	Topic            string   `json:"topic"`
	Audience         string   `json:"audience"`
	Content          Content  `json:"analogy_json"`
	ImageURLs        []string `json:"image_urls"`
	CreatedAt        string   `json:"created_at"`
	StreakPopupShown bool     `json:"streak_popup_shown,omitempty"`
}

// analogyEnvelope is the response shape of the single-analogy and
// generate endpoints, which name the fields differently from the
// stored record.
type analogyEnvelope struct {
	Status           string   `json:"status"`
	ID               string   `json:"id"`
	Analogy          Content  `json:"analogy"`
	AnalogyImages    []string `json:"analogy_images"`
	Topic            string   `json:"topic"`
	Audience         string   `json:"audience"`
	CreatedAt        string   `json:"created_at"`
	StreakPopupShown bool     `json:"streak_popup_shown"`
}

func (e *analogyEnvelope) toAnalogy() *Analogy {
	return &Analogy{
		ID:               e.ID,
		Topic:            e.Topic,
		Audience:         e.Audience,
		Content:          e.Analogy,
		ImageURLs:        e.AnalogyImages,
		CreatedAt:        e.CreatedAt,
		StreakPopupShown: e.StreakPopupShown,
	}
}

// Streak is the user's daily generation streak.
type Streak struct {
	Current         int    `json:"current_streak_count"`
	Longest         int    `json:"longest_streak_count"`
	LastDate        string `json:"last_streak_date"`
	LastAnalogyTime string `json:"last_analogy_time"`
	IsActive        bool   `json:"is_streak_active"`
	DaysSinceLast   int    `json:"days_since_last_analogy"`
	WasReset        bool   `json:"streak_was_reset"`
}
