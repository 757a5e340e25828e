package bot

const (
	officialWelcomeText = "Hello! To access this bot, you need to verify that you're hold an administrative position at Covenant University. Please sign in with your Google account using the button below."
	officialVerifiedFmt = "You're already verified as %s - %s. Feel free to continue using the bot"

	studentWelcomeText = "Hello! To access this bot, you need to verify that you have a valid Covenant University email. Please sign in with your Google account using the button below."
	studentVerifiedFmt = "You're already verified with your Covenant University email %s. Feel free to continue using the bot."

	// AuthorizedText is sent once the OAuth flow has recorded the user.
	AuthorizedText = "Thank you for verifying your Covenant University email! You're now authorized to use the bot and receive messages. ✅"

	previewDivider = "⬇️⬇️⬇️⬇️⬇️⬇️⬇️"
	sentOKText     = "Message sent successfully"
	sentFailText   = "Message was unable to be sent"
	attachFailText = "Could not add this attachment, please try again."
	mailOffText    = "Mail integration is disabled"

	authorizeLabel = "Authorize me"
	editorLabel    = "Open editor"
	yesLabel       = "Yes ✅"
	noLabel        = "No 🚫"
)
