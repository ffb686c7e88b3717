package bot

import (
	"fmt"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"relaybot/internal/dispatch"
	"relaybot/internal/segment"
	"relaybot/pkg/tgui"
)

// Callback actions. Payload meanings are documented per handler.
const (
	actMenu    = "menu"
	actSegment = "seg"
	actSize    = "size"
	actPreview = "prev"
	actPace    = "pace"
	actConfirm = "go"
	actTools   = "tools"
)

var sizePresets = []int{50, 100, 500, 1000}

var pacePresets = []int{0, 1, 5, 10, 30, 60} // minutes

func mainMenu() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn("📣 Broadcast to everyone", tgui.Data(actMenu, "all"))).
		Row(tgui.Btn("🎯 Partial broadcast", tgui.Data(actMenu, "partial"))).
		Row(tgui.Btn("🔗 Secure link", tgui.Data(actMenu, "link"))).
		Row(tgui.Btn("🛠 Directory tools", tgui.Data(actMenu, "tools"))).
		Markup()
}

func audienceMenu() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(
			tgui.Btn("Odd IDs", tgui.Data(actSegment, "odd")),
			tgui.Btn("Even IDs", tgui.Data(actSegment, "even")),
		).
		Row(
			tgui.Btn("Newest joiners", tgui.Data(actSegment, "newest")),
			tgui.Btn("Oldest joiners", tgui.Data(actSegment, "oldest")),
		).
		Row(tgui.Btn("First N recipients", tgui.Data(actSegment, "limit"))).
		Row(tgui.Btn("« Back", tgui.Data(actMenu, "main"))).
		Markup()
}

func sizeMenu() *tele.ReplyMarkup {
	btns := make([]tele.Btn, 0, len(sizePresets)+1)
	for _, n := range sizePresets {
		btns = append(btns, tgui.Btn(strconv.Itoa(n), tgui.Data(actSize, strconv.Itoa(n))))
	}
	btns = append(btns, tgui.Btn("Custom…", tgui.Data(actSize, "custom")))
	return tgui.Grid2(btns)
}

func previewMenu() *tele.ReplyMarkup {
	return tgui.ConfirmInline(
		tgui.Btn("✅ Looks good", tgui.Data(actPreview, "ok")),
		tgui.Btn("✏️ Edit", tgui.Data(actPreview, "edit")),
	).Markup()
}

func paceMenu() *tele.ReplyMarkup {
	btns := make([]tele.Btn, 0, len(pacePresets)+1)
	for _, m := range pacePresets {
		label := "Send now"
		if m > 0 {
			label = fmt.Sprintf("In %d min", m)
		}
		btns = append(btns, tgui.Btn(label, tgui.Data(actPace, strconv.Itoa(m))))
	}
	btns = append(btns, tgui.Btn("Custom…", tgui.Data(actPace, "custom")))
	return tgui.Grid2(btns)
}

func confirmMenu() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn("🚀 Send", tgui.Data(actConfirm, "send"))).
		Row(
			tgui.Btn("✏️ Edit message", tgui.Data(actConfirm, "edit")),
			tgui.Btn("✖ Cancel", tgui.Data(actConfirm, "cancel")),
		).
		Markup()
}

func toolsMenu() *tele.ReplyMarkup {
	return tgui.NewInline().
		Row(tgui.Btn("👥 Totals", tgui.Data(actTools, "count"))).
		Row(
			tgui.Btn("🚫 Count blocked", tgui.Data(actTools, "blocked")),
			tgui.Btn("❓ Count unreachable", tgui.Data(actTools, "unreachable")),
		).
		Row(
			tgui.Btn("🧹 Remove deleted", tgui.Data(actTools, "clean_deleted")),
			tgui.Btn("🧹 Remove unreachable", tgui.Data(actTools, "clean_unreachable")),
		).
		Row(tgui.Btn("« Back", tgui.Data(actMenu, "main"))).
		Markup()
}

func promptContent(spec segment.Spec, targets int) string {
	return fmt.Sprintf("Audience: %s — <b>%d recipients</b>.\n\nSend the broadcast message now (text, or a photo with caption).",
		tgui.Esc(spec.Describe()), targets)
}

func statsReport(st dispatch.Stats, took time.Duration) string {
	return fmt.Sprintf(
		"📊 %s in %s\n\nTotal: %d\nDelivered: %d\nFailed: %d\n├ Blocked: %d\n├ Deleted accounts: %d\n├ Unreachable: %d\n└ Other: %d",
		tgui.B("Broadcast finished"), took.Round(time.Second), st.Total, st.Delivered, st.Failed,
		st.Blocked, st.DeletedAccount, st.Unreachable, st.Other)
}

func progressReport(done int, st dispatch.Stats) string {
	return fmt.Sprintf("… %d/%d sent (%d failed)", done, st.Total, st.Failed)
}
