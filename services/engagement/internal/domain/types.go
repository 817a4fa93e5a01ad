package domain

import "time"

// Target is the single entity a Like refers to. Exactly one field is set.
type Target struct {
	PostID    string `json:"post_id,omitempty"`
	CommentID string `json:"comment_id,omitempty"`
}

func PostTarget(postID string) Target       { return Target{PostID: postID} }
func CommentTarget(commentID string) Target { return Target{CommentID: commentID} }

// IsComment reports whether the target is a comment.
func (t Target) IsComment() bool { return t.CommentID != "" }

// ID returns whichever id is set.
func (t Target) ID() string {
	if t.CommentID != "" {
		return t.CommentID
	}
	return t.PostID
}

// Validate enforces the exclusive-or rule.
func (t Target) Validate() error {
	switch {
	case t.PostID == "" && t.CommentID == "":
		return Errorf(ErrValidation, "one of post_id or comment_id is required")
	case t.PostID != "" && t.CommentID != "":
		return Errorf(ErrValidation, "post_id and comment_id are mutually exclusive")
	}
	return nil
}

type Like struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PostID    *string   `json:"post_id,omitempty"`
	CommentID *string   `json:"comment_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Target reconstructs the like's target.
func (l Like) Target() Target {
	var t Target
	if l.PostID != nil {
		t.PostID = *l.PostID
	}
	if l.CommentID != nil {
		t.CommentID = *l.CommentID
	}
	return t
}

type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	ParentID  *string   `json:"parent_id"`
	Content   string    `json:"content"`
	LikeCount int       `json:"like_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SavedPost struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PostID    string    `json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Post is the local projection of a post owned by the content service.
// Counters are maintained here; metadata arrives from content events.
type Post struct {
	ID           string    `json:"id"`
	Slug         string    `json:"slug"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	LikeCount    int       `json:"like_count"`
	CommentCount int       `json:"comment_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// LikeWithTarget is a like joined to whatever it points at. Nil pointers mean
// the join did not resolve (the target was deleted).
type LikeWithTarget struct {
	Like    Like
	Post    *Post
	Comment *Comment
}

type CommentWithPost struct {
	Comment Comment
	Post    *Post
}

type SavedPostWithPost struct {
	SavedPost SavedPost `json:"saved_post"`
	Post      *Post     `json:"post,omitempty"`
}

// Activity types.
const (
	ActivityLike        = "like"
	ActivityLikeComment = "like_comment"
	ActivityComment     = "comment"
	ActivitySave        = "save"
)

// Activity is derived on read and never stored.
type Activity struct {
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	Preview     string    `json:"preview,omitempty"`
}

// Stats is the user dashboard payload.
type Stats struct {
	LikesGiven           int        `json:"likes_given"`
	CommentsPosted       int        `json:"comments_posted"`
	PostsSaved           int        `json:"posts_saved"`
	PostsLiked           int        `json:"posts_liked"`
	AvgEngagementsPerDay float64    `json:"avg_engagements_per_day"`
	AccountAgeDays       int        `json:"account_age_days"`
	RecentActivity       []Activity `json:"recent_activity"`
}

// CommentNode is one comment with its replies, arbitrarily deep.
type CommentNode struct {
	Comment
	Replies []*CommentNode `json:"replies"`
}
