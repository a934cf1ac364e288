// Package auth implements the allow-list authorization gate. Two independent
// lists control access: regular users and administrators. An entry of "*"
// grants the corresponding level to everyone.
package auth

import (
	"log/slog"
	"strings"
)

// Wildcard grants a level to all senders when present in its list.
const Wildcard = "*"

// Gate checks sender identifiers against configured allow lists. An empty
// list denies everyone at that level.
type Gate struct {
	users  map[string]struct{}
	admins map[string]struct{}

	usersAll  bool
	adminsAll bool
}

// NewGate builds a Gate from comma separated user and admin identifier lists.
// Whitespace around entries is ignored, empty entries are dropped.
func NewGate(userList, adminList string) *Gate {
	g := &Gate{
		users:  make(map[string]struct{}),
		admins: make(map[string]struct{}),
	}
	g.usersAll = parseList(userList, g.users)
	g.adminsAll = parseList(adminList, g.admins)
	slog.Debug("Gate.NewGate: initialized", "users", len(g.users), "admins", len(g.admins),
		"usersWildcard", g.usersAll, "adminsWildcard", g.adminsAll)
	return g
}

func parseList(raw string, into map[string]struct{}) (wildcard bool) {
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == Wildcard {
			wildcard = true
			continue
		}
		into[entry] = struct{}{}
	}
	return wildcard
}

// IsUser reports whether id may run user-level commands.
func (g *Gate) IsUser(id string) bool {
	if g.usersAll {
		return true
	}
	_, ok := g.users[id]
	return ok
}

// IsAdmin reports whether id may run admin-level commands.
func (g *Gate) IsAdmin(id string) bool {
	if g.adminsAll {
		return true
	}
	_, ok := g.admins[id]
	return ok
}
