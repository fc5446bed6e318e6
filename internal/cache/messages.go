package cache

import (
	"sort"
	"time"
)

// Logical cache keys, stored under the manager prefix.
const (
	KeyMessageStatus   = "message_status"
	KeyScrollPositions = "scroll_positions"
	KeyLastActive      = "last_active"
	KeyGroups          = "groups"
	KeyCurrentUser     = "current_user"
	KeyAppState        = "app_state"
	KeyDiagnostics     = "cache_diagnostics"

	groupMessagesPrefix = "group_messages_"
)

const (
	MessagesTTL = 30 * 24 * time.Hour
	StatusTTL   = 30 * 24 * time.Hour
	ScrollTTL   = 7 * 24 * time.Hour
	ActivityTTL = 30 * 24 * time.Hour
	GroupsTTL   = time.Hour
	UserTTL     = 24 * time.Hour
	AppStateTTL = 24 * time.Hour
)

func GroupMessagesKey(groupID string) string { return groupMessagesPrefix + groupID }

type Message struct {
	MessageID  string         `json:"messageId"`
	SenderID   string         `json:"senderId"`
	GroupID    string         `json:"groupId,omitempty"`
	Body       string         `json:"body,omitempty"`
	SentAt     int64          `json:"sentAt,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type ReadStatus struct {
	IsRead bool   `json:"isRead"`
	ReadAt int64  `json:"readAt,omitempty"`
	ReadBy string `json:"readBy,omitempty"`
}

type ScrollPosition struct {
	ScrollTop    int   `json:"scrollTop"`
	ScrollHeight int   `json:"scrollHeight"`
	Timestamp    int64 `json:"timestamp"`
}

func (m *Manager) SetMessages(groupID string, msgs []Message) {
	if msgs == nil {
		msgs = []Message{}
	}
	m.Set(GroupMessagesKey(groupID), msgs, m.After(MessagesTTL))
}

func (m *Manager) GetMessages(groupID string) []Message {
	var msgs []Message
	if !m.Get(GroupMessagesKey(groupID), &msgs) {
		return nil
	}
	return msgs
}

// AddMessage appends msg to the group's list and marks the group active.
func (m *Manager) AddMessage(groupID string, msg Message) {
	msgs := append(m.GetMessages(groupID), msg)
	m.SetMessages(groupID, msgs)
	m.UpdateLastActivity(groupID)
}

// UpdateMessage applies fn to the message with the given id and reports
// whether it was found.
func (m *Manager) UpdateMessage(groupID, messageID string, fn func(*Message)) bool {
	msgs := m.GetMessages(groupID)
	for i := range msgs {
		if msgs[i].MessageID == messageID {
			fn(&msgs[i])
			m.SetMessages(groupID, msgs)
			return true
		}
	}
	return false
}

func (m *Manager) RemoveMessage(groupID, messageID string) bool {
	msgs := m.GetMessages(groupID)
	for i := range msgs {
		if msgs[i].MessageID == messageID {
			msgs = append(msgs[:i], msgs[i+1:]...)
			m.SetMessages(groupID, msgs)
			return true
		}
	}
	return false
}

type statusMap map[string]map[string]ReadStatus

func (m *Manager) statuses() statusMap {
	all := statusMap{}
	if !m.Get(KeyMessageStatus, &all) || all == nil {
		return statusMap{}
	}
	return all
}

func (m *Manager) SaveMessageStatus(groupID, messageID string, st ReadStatus) {
	all := m.statuses()
	if all[groupID] == nil {
		all[groupID] = map[string]ReadStatus{}
	}
	all[groupID][messageID] = st
	m.Set(KeyMessageStatus, all, m.After(StatusTTL))
}

// GetMessageStatus returns the read statuses recorded for a group, keyed
// by message id. The map is never nil.
func (m *Manager) GetMessageStatus(groupID string) map[string]ReadStatus {
	if st := m.statuses()[groupID]; st != nil {
		return st
	}
	return map[string]ReadStatus{}
}

func (m *Manager) MarkMessageAsRead(groupID, messageID, userID string) {
	m.SaveMessageStatus(groupID, messageID, ReadStatus{IsRead: true, ReadAt: m.now(), ReadBy: userID})
}

// MarkAllMessagesAsRead marks every cached message of the group as read
// in a single write.
func (m *Manager) MarkAllMessagesAsRead(groupID, userID string) {
	msgs := m.GetMessages(groupID)
	if len(msgs) == 0 {
		return
	}
	all := m.statuses()
	if all[groupID] == nil {
		all[groupID] = map[string]ReadStatus{}
	}
	now := m.now()
	for _, msg := range msgs {
		all[groupID][msg.MessageID] = ReadStatus{IsRead: true, ReadAt: now, ReadBy: userID}
	}
	m.Set(KeyMessageStatus, all, m.After(StatusTTL))
}

// GetUnreadMessages lists the group's messages, in order, that userID did
// not author and has no read status for.
func (m *Manager) GetUnreadMessages(groupID, userID string) []Message {
	status := m.GetMessageStatus(groupID)
	var unread []Message
	for _, msg := range m.GetMessages(groupID) {
		if msg.SenderID == userID {
			continue
		}
		if st, ok := status[msg.MessageID]; ok && st.IsRead {
			continue
		}
		unread = append(unread, msg)
	}
	return unread
}

func (m *Manager) GetFirstUnreadMessage(groupID, userID string) (Message, bool) {
	unread := m.GetUnreadMessages(groupID, userID)
	if len(unread) == 0 {
		return Message{}, false
	}
	return unread[0], true
}

func (m *Manager) SaveScrollPosition(groupID string, scrollTop, scrollHeight int) {
	all := map[string]ScrollPosition{}
	if !m.Get(KeyScrollPositions, &all) || all == nil {
		all = map[string]ScrollPosition{}
	}
	all[groupID] = ScrollPosition{ScrollTop: scrollTop, ScrollHeight: scrollHeight, Timestamp: m.now()}
	m.Set(KeyScrollPositions, all, m.After(ScrollTTL))
}

func (m *Manager) GetScrollPosition(groupID string) (ScrollPosition, bool) {
	var all map[string]ScrollPosition
	if !m.Get(KeyScrollPositions, &all) {
		return ScrollPosition{}, false
	}
	pos, ok := all[groupID]
	return pos, ok
}

func (m *Manager) activity() map[string]int64 {
	all := map[string]int64{}
	if !m.Get(KeyLastActive, &all) || all == nil {
		return map[string]int64{}
	}
	return all
}

func (m *Manager) UpdateLastActivity(groupID string) {
	all := m.activity()
	all[groupID] = m.now()
	m.Set(KeyLastActive, all, m.After(ActivityTTL))
}

func (m *Manager) GetLastActivity(groupID string) (time.Time, bool) {
	ms, ok := m.activity()[groupID]
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// GetMostRecentlyActiveGroup returns the group touched last. Ties go to
// the lexically smallest id.
func (m *Manager) GetMostRecentlyActiveGroup() (string, bool) {
	all := m.activity()
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	best, bestAt := "", int64(-1)
	for _, id := range ids {
		if all[id] > bestAt {
			best, bestAt = id, all[id]
		}
	}
	return best, best != ""
}

func (m *Manager) SetGroups(groups any) { m.Set(KeyGroups, groups, m.After(GroupsTTL)) }

func (m *Manager) GetGroups(out any) bool { return m.Get(KeyGroups, out) }

func (m *Manager) SetUser(user any) { m.Set(KeyCurrentUser, user, m.After(UserTTL)) }

func (m *Manager) GetUser(out any) bool { return m.Get(KeyCurrentUser, out) }

func (m *Manager) SetAppState(state any) { m.Set(KeyAppState, state, m.After(AppStateTTL)) }

func (m *Manager) GetAppState(out any) bool { return m.Get(KeyAppState, out) }
