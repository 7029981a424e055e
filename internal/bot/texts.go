package bot

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/access"
	"github.com/MarcoPoloResearchLab/achievements-bot/internal/filter"
)

const (
	documentationPrefix = "documentation"
	assignChatPrefix    = "assign_chat"
	addStickersURL      = "https://t.me/addstickers/"
)

type documentationPage struct {
	title string
	body  string
}

// MarkdownV2 bodies; reserved characters are escaped.
var documentation = []documentationPage{
	{
		title: "What is it?",
		body: `This is the Achievements Bot\.
Ever wanted to show appreciation for someone's _achievements_ in a chat? With this bot, you can create unique stickers representing their achievements and assign them directly\. Each chat will also have a sticker set to keep track of all the achievements awarded\.`,
	},
	{
		title: "Where are the stickers stored?",
		body: `Stickers are stored in specific Telegram sticker sets\. There's one sticker set for each person to track individual achievements, and another for the entire chat to monitor collective achievements\.

To manage these sets, one chat member must become the sticker set owner by sending /own\_stickers in the chat\.

Remember, if you're the owner, DO NOT modify these stickers as it could disrupt the bot's functionality\.`,
	},
	{
		title: "How to give a new achievement?",
		body: `To award a new achievement, reply to a message in the chat, using a specific keyword to activate the bot\. The bot will recognize the keyword, process the achievement, and post stickers representing it: one from the individual's set and another from the chat's collective set\.
The stickers are AI\-generated based on the achievement's description\.

Currently, you can use phrases like ` + "`выдаю ачивку за \\(текст достижения\\)`" + ` or ` + "`drop an achievement for \\(achievement message\\)`" + ` to trigger the bot\.`,
	},
	{
		title: "How to give an existing achievement?",
		body:  `Simply reply to a message with an achievement sticker from the chat's collective sticker set\. Every time you award the same achievement to a new person, the count under each description sticker increases\.`,
	},
	{
		title: "FAQ",
		body: `>Why did I receive a warning for excessive bot usage?
    To operate within a limited budget, there are usage caps: you can only grant two achievements per person per day\. Exceeding this limit can lead to an automatic ban\.

>I see that order of stickers is messed up in the stickerset, what else could I do to fix it?
    Sorry to hear that, we are working on making the bot more resilient to errors in the updates\.

For now the only solution is to run /reset command \(_it's only available to stickerset owners_\) that would reset all the information about your stickers of your chat and start over :\(`,
	},
}

func documentationText(page int) string {
	if page < 0 || page >= len(documentation) {
		page = 0
	}
	return fmt.Sprintf("*%s*\n\n%s", documentation[page].title, documentation[page].body)
}

const (
	greetingPrivate = "Hello! Thank you for using our bot!\n\nThis bot is designed for group chats only. " +
		"However, in private messages, it helps determine sticker ownership for the group chats where you " +
		"have requested stickerset ownership.\n\nHere is the list of chats where you requested stickerset " +
		"ownership within the last 24 hours."
	greetingGroup = "Hi there! Thank you for using our bot!\nHere's the small documentation what it does and how it's working"

	ownerReminder = "*Reminder:*\n\nTo access additional features of the bot beyond the /start and /help commands, " +
		"_please designate a sticker set owner for this chat_ by using the /own\\_stickers command"

	ownerAssignedPrivate = "Congrats! Now you're the owner of this chat's stickerset!"
	ownerAlreadyChosen   = "Sorry, but it turns out that the owner for this chat was already chosen. " +
		"Run /start command again to see your updated pending requests"

	banUsage   = "In order to ban a user, invoke /ban command with the mention of the user that you intend to ban (e.g. /ban @username)"
	unbanUsage = "In order to unban a user, invoke /unban command with the mention of the user that you intend to unban (e.g. /unban @username)"

	notUnblockedYet = "This achievement is not unblocked yet, so you can't give it to someone else!"
	chatBusy        = "Another achievement is being handed out in this chat right now, please try again in a minute"
	grantFailed     = "Sorry, something went wrong while creating the achievement stickers. The administrators have been notified."
)

func ownerAssignedGroup(username string) string {
	return fmt.Sprintf("Congrats, @%s you've been assigned as a stickerset owner for this chat.\n\n"+
		"Now all other functions of the bot have been unblocked for this chat. For more information check /help command", username)
}

func ownershipRequested(username string) string {
	return fmt.Sprintf("@%s you've send a request to become a stickerset owner for this chat.\n\n"+
		"To proceed, please send /start message to this bot in DM", username)
}

func resetDone(username string) string {
	return fmt.Sprintf("@%s, as per your request, all stickers for this chat were reset and sticker sets deleted. "+
		"Also you've been unassigned from sticker set owner role in this chat.\n\nAll bot features now are unavailable "+
		"again, until new sticker set owner would be chosen by /own_stickers command", username)
}

func banned(username string) string {
	return fmt.Sprintf("@%s, the admin has restricted your access to the bot", username)
}

func unbanned(username string) string {
	return fmt.Sprintf("@%s, the admin has lifted the restriction on your access to the bot", username)
}

func notBannedBefore(username string) string {
	return fmt.Sprintf("@%s was not banned", username)
}

func unknownMember(username string) string {
	return fmt.Sprintf("I haven't seen @%s in any chat yet, so I can't find them", username)
}

func promptNotIdentified(from, to string) string {
	return fmt.Sprintf("User @%s mentioned one of the achievement granting key words in their reply to @%s! But prompt was not identified :(", from, to)
}

func congratulations(to, from, chatTitle, engraving string) string {
	return fmt.Sprintf("Congrats @%s you just received an achievement from @%s in '%s' chat for '%s'", to, from, chatTitle, engraving)
}

func showCollections(username, chatTitle, chatCollection, userCollection string) string {
	if chatCollection == "" {
		return fmt.Sprintf("Nobody in the chat '%s' has received an achievement yet", chatTitle)
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "Link to '%s' achievements: %s%s\n", chatTitle, addStickersURL, chatCollection)
	if userCollection != "" {
		fmt.Fprintf(&builder, "Link to @%s's achievements in the chat '%s': %s%s", username, chatTitle, addStickersURL, userCollection)
	} else {
		fmt.Fprintf(&builder, "@%s doesn't have any achievements in the chat '%s'", username, chatTitle)
	}
	return builder.String()
}

func banNotice(username string, limit int) string {
	return fmt.Sprintf("@%s you exceeded the limit of %d, so as we warned previously, we permanently ban you from utilizing this bot", username, limit)
}

func warningText(policy access.Policy, username string) string {
	switch policy.Interaction {
	case access.ShowPolicy.Interaction:
		return fmt.Sprintf("@%s, we've noticed unusual activity from your account, currently there is a limit of %d daily /show "+
			"executions per individual. Exceeding this limit will prompt notifications such as this one. Accumulating %d warnings "+
			"of this nature within a single day may result in permanent suspension from utilizing our bot.",
			username, policy.MaxInteractions, policy.BanAfter)
	case access.GivePolicy.Interaction:
		return fmt.Sprintf("Achievements are like rare jewels scattered throughout our lives, precious and unique. It's crucial to "+
			"cherish their scarcity and significance. That's why we've imposed a limit of %d daily executions per individual. "+
			"Exceeding this limit will prompt notifications such as this one. Accumulating %d warnings of this nature within a "+
			"single day may result in permanent suspension from utilizing our bot. @%s, we kindly ask for your cooperation in "+
			"adhering to these guidelines.",
			policy.MaxInteractions, policy.BanAfter, username)
	case access.FormatPolicy.Interaction:
		return fmt.Sprintf("Sorry, @%s, your request couldn't be processed due to the length of your message or the characters you "+
			"used. Currently, the bot supports prompts up to %d alphanumeric characters and words no longer than %d characters. "+
			"We are working to extend these limits. For now, please keep your messages within these parameters to ensure the bot "+
			"operates smoothly. Repeatedly sending long messages will lead to further warnings.\n\nIf you exceed %d such warnings "+
			"in a day, they may count towards a potential ban, as it suggests an attempt to disrupt the bot's functions. "+
			"Accumulating %d warnings within a single day may result in permanent suspension from utilizing our bot.",
			username, filter.MaxPromptLength, filter.MaxWordLength, policy.MaxInteractions, policy.BanAfter)
	default:
		return fmt.Sprintf("@%s, this bot relies on external APIs that also perform profanity checks. Frequent triggers of these "+
			"checks could result in the suspension of the accounts powering our services. We kindly request that you refrain "+
			"from using inappropriate language when interacting with the bot. Continued use of such language will result in "+
			"similar warnings. Accumulating %d warnings within a single day may result in permanent suspension from utilizing our bot.",
			username, policy.BanAfter)
	}
}
