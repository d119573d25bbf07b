package models

import "time"

// Item is one normalized piece of aggregated content. Identity is the dedup
// key: the feed entry's own GUID, its permalink as fallback, or a
// source-qualified best effort when the entry carries neither.
type Item struct {
	Identity  string    `json:"identity"`
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Summary   string    `json:"summary,omitempty"`
	Published time.Time `json:"published"`
}

// ItemEvent fired when a refresh cycle accepts a new or fresher item
type ItemEvent struct {
	Item Item
}

type ItemsResponse struct {
	Items []Item `json:"items"`
	Count int    `json:"count"`
}

type SourceInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}
