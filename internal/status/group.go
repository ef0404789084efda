package status

import (
	"fmt"
	"strings"

	"github.com/ernie/craftwatch/internal/domain"
)

// Columns is the number of inline columns the player list is spread over
const Columns = 3

const (
	playersHeader = "__**PLAYERS**__"
	// blankValue renders an empty field value; the platform rejects "".
	blankValue = "\u200e "
)

// GroupPlayers partitions roster round-robin by index mod Columns.
// Groups that would be empty are not returned.
func GroupPlayers(roster []string) [][]string {
	groups := make([][]string, Columns)
	for i, name := range roster {
		groups[i%Columns] = append(groups[i%Columns], name)
	}

	out := make([][]string, 0, Columns)
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}

// PlayerFields renders the player summary followed by one inline field per group.
// A single-member group is a standalone line; larger groups use their first
// member as the header and bullet the rest underneath.
func PlayerFields(players domain.Players) []domain.EmbedField {
	fields := []domain.EmbedField{{
		Name:  playersHeader,
		Value: fmt.Sprintf("**%d/%d**", players.Online, players.Max),
	}}

	for _, g := range GroupPlayers(players.Roster) {
		if len(g) == 1 {
			fields = append(fields, domain.EmbedField{
				Name:   " • " + g[0],
				Value:  blankValue,
				Inline: true,
			})
			continue
		}
		fields = append(fields, domain.EmbedField{
			Name:   "• " + g[0],
			Value:  "**• " + strings.Join(g[1:], "\n• ") + "**",
			Inline: true,
		})
	}
	return fields
}
