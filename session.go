package chathaven

// Session is the locally persisted identity handed to the sync layer at
// construction time. The SDK never reads ambient global state; whatever
// stores the token across restarts (the CLI's config file, for instance)
// passes it in here.
type Session struct {
	Token    string
	UserID   string
	Username string
}

// Valid reports whether the session carries enough identity to open a
// real-time connection.
func (s Session) Valid() bool {
	return s.Token != "" && s.UserID != ""
}
