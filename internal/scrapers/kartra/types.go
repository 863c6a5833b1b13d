package kartra

import "fmt"

// SyntheticSubcategoryID marks posts that hang directly off a category, the
// subcategory then carries the category's name.
const SyntheticSubcategoryID = -1

type Course struct {
	ID string
}

type Category struct {
	Name   string
	Course string
}

type Subcategory struct {
	ID       int
	Name     string
	Category string
	Course   string
}

func (s Subcategory) Synthetic() bool {
	return s.ID == SyntheticSubcategoryID
}

// Post is a discovered lesson. VideoID stays empty until the post is resolved.
type Post struct {
	ID            int
	Name          string
	Course        string
	Category      string
	Subcategory   string
	SubcategoryID int

	VideoID  string
	Body     string
	Resolved bool
}

func (p Post) String() string {
	return fmt.Sprintf("%s/post/%d", p.Course, p.ID)
}

// HasVideo is only meaningful after Resolve.
func (p Post) HasVideo() bool {
	return p.VideoID != ""
}
