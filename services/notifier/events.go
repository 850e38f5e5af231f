package notifier

// Event payloads mirror the rows and registration facts the API publishes.
// IDs arrive as strings since generic inserts are JSON maps end to end.

type memberJoinedEvent struct {
	AccountID string `json:"account_id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
}

type productListedEvent struct {
	ID       string `json:"id"`
	SellerID string `json:"seller_id"`
	Name     string `json:"name"`
}

type threadCommentedEvent struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id"`
	AuthorID    string `json:"author_id"`
	RecipientID string `json:"recipient_id"`
	Body        string `json:"body"`
}

type eventPublishedEvent struct {
	ID          string `json:"id"`
	OrganizerID string `json:"organizer_id"`
	Title       string `json:"title"`
}

type wishlistAddedEvent struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
}
