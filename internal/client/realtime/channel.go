package realtime

import "fmt"

// Scope selects whose records the feed delivers: a group's shared records
// when GroupID is set, otherwise the user's personal ones.
type Scope struct {
	UserID  string
	GroupID string
}

const recordsTable = "pantry_records"

func (s Scope) personal() bool { return s.GroupID == "" }

// ChannelName is the feed channel of s. Each scope gets its own channel so a
// scope switch never shares a connection with the previous one.
func ChannelName(s Scope) string {
	if s.personal() {
		return fmt.Sprintf("%s:user:%s", recordsTable, s.UserID)
	}
	return fmt.Sprintf("%s:group:%s", recordsTable, s.GroupID)
}

// Filter is the server-side row filter of s. The server applies it to
// inserts and updates only; deletes must be filtered by the client.
func Filter(s Scope) string {
	if s.personal() {
		return "user_id=eq." + s.UserID
	}
	return "group_id=eq." + s.GroupID
}

// Contains reports whether a row with the given linkage belongs to s. An
// empty userID is accepted because delete events may carry only the
// primary key and group linkage.
func (s Scope) Contains(userID, groupID string) bool {
	if !s.personal() {
		return groupID == s.GroupID
	}
	return groupID == "" && (userID == "" || userID == s.UserID)
}
