package services

import (
	"fmt"
	"strings"

	"competition-lifecycle/models"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var numberPrinter = message.NewPrinter(language.English)

var medals = []string{"🥇", "🥈", "🥉"}

func mention(roleID string) string {
	if roleID == "" {
		return ""
	}
	return "<@&" + roleID + ">\n"
}

func emojiToken(comp *models.Competition) string {
	if comp.Emoji == "" {
		return "✅"
	}
	return ":" + comp.Emoji + ":"
}

func competitionURL(pageURL, competitionID string) string {
	return pageURL + competitionID
}

func competitionLink(comp *models.Competition, pageURL string) string {
	return fmt.Sprintf("[**%s**](%s)", comp.Title, competitionURL(pageURL, comp.ExternalID()))
}

func pollOpenedMessage(roleID, competitionType string) string {
	return fmt.Sprintf("%s📊 A new poll has started! 📊\nVote now for the next **%s**!", mention(roleID), competitionType)
}

func tiebreakerMessage(roleID, competitionType string) string {
	return fmt.Sprintf("%s📊 A tiebreaker poll has started! 📊\nVote now for the next **%s**!", mention(roleID), competitionType)
}

func createdMessage(roleID string, comp *models.Competition, pageURL string) string {
	e := emojiToken(comp)
	return fmt.Sprintf("%s%s The next competition will be %s! %s\nIt will begin <t:%d:F>.\nReact to this message to be added into the competition!",
		mention(roleID), e, competitionLink(comp, pageURL), e, comp.StartsAt.Unix())
}

func reminderMessage(roleID string, comp *models.Competition, pageURL string) string {
	e := emojiToken(comp)
	return fmt.Sprintf("%s⏰ Reminder: The competition %s %s %s starts in 24 hours!",
		mention(roleID), e, competitionLink(comp, pageURL), e)
}

func noticeMessage(roleID string, comp *models.Competition, pageURL string, starting bool) string {
	verb, deadline := "end", "before the competition ends"
	if starting {
		verb, deadline = "start", "before the competition begins"
	}
	e := emojiToken(comp)
	return fmt.Sprintf("%sThe competition %s %s %s will %s in **30 minutes**!\nPlease make sure to log out and update your Wise Old Man profile %s.",
		mention(roleID), e, competitionLink(comp, pageURL), e, verb, deadline)
}

func startedMessage(roleID string, comp *models.Competition, pageURL string) string {
	e := emojiToken(comp)
	return fmt.Sprintf("%s%s %s %s has officially started!\n\nGood luck to everyone competing!",
		mention(roleID), e, competitionLink(comp, pageURL), e)
}

func finishedMessage(roleID string, comp *models.Competition, pageURL string, standings []Standing) string {
	e := emojiToken(comp)
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s **%s** %s has finished!\n\n", mention(roleID), e, comp.Title, e)
	fmt.Fprintf(&b, "🏆 Winners of %s\n", competitionLink(comp, pageURL))

	shown := 0
	for _, st := range standings {
		if shown == len(medals) {
			break
		}
		fmt.Fprintf(&b, "%s %s - %s\n", medals[shown], st.DisplayName, formatGained(comp.Type, st.Gained))
		shown++
	}
	if shown == 0 {
		b.WriteString("No participants gained progress during this competition.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatGained(competitionType string, gained int64) string {
	switch competitionType {
	case models.CompetitionTypeSkill:
		return numberPrinter.Sprintf("%d XP", gained)
	case models.CompetitionTypeBoss:
		if gained == 1 {
			return "1 kill"
		}
		return numberPrinter.Sprintf("%d kills", gained)
	default:
		return numberPrinter.Sprintf("%d", gained)
	}
}
