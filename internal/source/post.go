package source

// TypeNewsletter marks original posts in the archive listing. Anything else
// (restacks, podcasts re-shared from elsewhere) is dropped.
const TypeNewsletter = "newsletter"

// Post is one raw archive listing entry. Every field is optional upstream;
// defaults are applied by the extract package, not here.
type Post struct {
	ID               int64          `json:"id"`
	Type             string         `json:"type"`
	Slug             string         `json:"slug"`
	Title            string         `json:"title"`
	Subtitle         string         `json:"subtitle"`
	CanonicalURL     string         `json:"canonical_url"`
	PostDate         string         `json:"post_date"`
	Audience         string         `json:"audience"`
	ReactionCount    int            `json:"reaction_count"`
	CommentCount     int            `json:"comment_count"`
	Reactions        map[string]int `json:"reactions"`
	PostTags         []Named        `json:"postTags"`
	PublishedBylines []Named        `json:"publishedBylines"`
	Publication      *Publication   `json:"publication"`
	CoverImage       string         `json:"cover_image"`
	WordCount        int            `json:"wordcount"`
}

// Named is the shape shared by tags and bylines.
type Named struct {
	Name string `json:"name"`
}

// Publication is the publication block embedded in listing entries.
type Publication struct {
	Name     string `json:"name"`
	HeroText string `json:"hero_text"`
}

type postContent struct {
	BodyHTML string `json:"body_html"`
}
