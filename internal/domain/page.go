package domain

// Page is an assembled pagination window over tasks. StartIndex and EndIndex
// are inclusive positions in creation order; EndIndex is -1 when the window
// is empty.
type Page struct {
	Items        []Task `json:"items"`
	Total        int    `json:"total"`
	CurrentIndex int    `json:"currentIndex"`
	HasNext      bool   `json:"hasNext"`
	HasPrev      bool   `json:"hasPrev"`
	StartIndex   int    `json:"startIndex"`
	EndIndex     int    `json:"endIndex"`
}
