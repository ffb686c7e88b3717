// Package directory persists the recipient roster: every chat the bot
// has been started in, with the profile fields needed for segmentation.
package directory
