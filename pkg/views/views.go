package views

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-go-golems/parley/pkg/conversations"
)

// RecentLimit caps the number of unpinned conversations shown.
const RecentLimit = 10

// FilterByQuery keeps the conversations whose title or preview contains the
// query, ignoring case. A blank query keeps everything. The input order is
// preserved.
func FilterByQuery(convs []*conversations.Conversation, query string) []*conversations.Conversation {
	if strings.TrimSpace(query) == "" {
		return convs
	}
	q := strings.ToLower(query)
	ret := make([]*conversations.Conversation, 0, len(convs))
	for _, c := range convs {
		if strings.Contains(strings.ToLower(c.Title), q) || strings.Contains(strings.ToLower(c.Preview), q) {
			ret = append(ret, c)
		}
	}
	return ret
}

// PartitionPinnedRecent splits conversations into pinned and recent, both
// sorted by UpdatedAt, newest first. Recent is capped at RecentLimit.
func PartitionPinnedRecent(convs []*conversations.Conversation) (pinned, recent []*conversations.Conversation) {
	pinned = []*conversations.Conversation{}
	recent = []*conversations.Conversation{}
	for _, c := range convs {
		if c.Pinned {
			pinned = append(pinned, c)
		} else {
			recent = append(recent, c)
		}
	}
	sortByUpdatedDesc(pinned)
	sortByUpdatedDesc(recent)
	if len(recent) > RecentLimit {
		recent = recent[:RecentLimit]
	}
	return pinned, recent
}

func sortByUpdatedDesc(convs []*conversations.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}

// CountByFolder counts conversations per known folder name. Every known
// folder is present, conversations in unknown folders are not counted.
func CountByFolder(convs []*conversations.Conversation, folders []conversations.Folder) map[string]int {
	ret := make(map[string]int, len(folders))
	for _, f := range folders {
		ret[f.Name] = 0
	}
	for _, c := range convs {
		if _, ok := ret[c.Folder]; ok {
			ret[c.Folder]++
		}
	}
	return ret
}

// Selected returns the conversation with the given id, or nil.
func Selected(convs []*conversations.Conversation, id string) *conversations.Conversation {
	if id == "" {
		return nil
	}
	for _, c := range convs {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// TimeAgo renders t relative to now for list rows.
func TimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	case t.Year() == now.Year():
		return t.Format("Jan 2")
	default:
		return t.Format("Jan 2, 2006")
	}
}
