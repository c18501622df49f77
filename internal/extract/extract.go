// Package extract maps raw listing entries onto archive rows. Nothing here
// performs I/O.
package extract

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/runnerr0/postvault/internal/source"
	"github.com/runnerr0/postvault/internal/storage"
)

const (
	defaultTitle    = "Untitled"
	defaultAudience = "everyone"
)

// PostFields is an Article ready to persist, minus the body, plus what the
// orchestrator needs to fetch and finish it.
type PostFields struct {
	Article storage.Article
	// Slug identifies the post on the content endpoint.
	Slug string
	// WordCountHint is the source's own word count. Only used when the
	// normalized body is empty.
	WordCountHint int
}

// Publication derives the publication row from the listing. Author, name
// and description come from the first entry that supplies each; the name
// falls back to the slug.
func Publication(baseURL string, posts []source.Post) storage.Publication {
	slug := Slug(baseURL)
	pub := storage.Publication{
		Slug: slug,
		URL:  strings.TrimRight(baseURL, "/"),
	}

	for _, p := range posts {
		if pub.Author == "" && len(p.PublishedBylines) > 0 {
			pub.Author = strings.TrimSpace(p.PublishedBylines[0].Name)
		}
		if p.Publication != nil {
			if pub.Name == "" {
				pub.Name = strings.TrimSpace(p.Publication.Name)
			}
			if pub.Description == "" {
				pub.Description = strings.TrimSpace(p.Publication.HeroText)
			}
		}
		if pub.Author != "" && pub.Name != "" && pub.Description != "" {
			break
		}
	}

	if pub.Name == "" {
		pub.Name = slug
	}
	return pub
}

// Slug derives the publication identity from the host of baseURL:
// https://www.demo.substack.com -> demo, https://blog.example.com -> blog.example.com.
func Slug(baseURL string) string {
	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	return strings.TrimSuffix(host, ".substack.com")
}

// Article maps one listing entry. Reactions and tags are serialized only
// when present; empty structures leave the column NULL.
func Article(p source.Post, baseURL string) PostFields {
	a := storage.Article{
		Title:            p.Title,
		Subtitle:         p.Subtitle,
		URL:              p.CanonicalURL,
		Audience:         p.Audience,
		ReactionCount:    p.ReactionCount,
		CommentCount:     p.CommentCount,
		FeaturedImageURL: p.CoverImage,
	}
	if a.Title == "" {
		a.Title = defaultTitle
	}
	if a.Audience == "" {
		a.Audience = defaultAudience
	}
	if a.URL == "" {
		a.URL = strings.TrimRight(baseURL, "/") + "/p/" + p.Slug
	}
	if t, err := time.Parse(time.RFC3339Nano, p.PostDate); err == nil {
		a.PublishedAt = t
	}

	if len(p.Reactions) > 0 {
		if b, err := json.Marshal(p.Reactions); err == nil {
			a.ReactionsJSON = string(b)
		}
	}

	tags := make([]string, 0, len(p.PostTags))
	for _, t := range p.PostTags {
		if name := strings.TrimSpace(t.Name); name != "" {
			tags = append(tags, name)
		}
	}
	if len(tags) > 0 {
		if b, err := json.Marshal(tags); err == nil {
			a.CategoriesJSON = string(b)
		}
	}

	return PostFields{
		Article:       a,
		Slug:          p.Slug,
		WordCountHint: p.WordCount,
	}
}
