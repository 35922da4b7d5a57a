package notify

import (
	"fmt"
	"strings"

	"github.com/swapset/crypto-exchange/settlement/internal/entities"
)

// renderMessage builds the operator message text for a notification. The
// creation template differs for a freshly provisioned address versus a
// reused one, because reused addresses require matching deposits by amount.
func renderMessage(typ entities.NotificationType, p entities.NotificationPayload) string {
	var b strings.Builder

	switch typ {
	case entities.NotificationOrderCreated:
		if p.WalletReused {
			b.WriteString("🔁 <b>New order (shared wallet)</b>\n")
		} else {
			b.WriteString("🆕 <b>New order</b>\n")
		}
	case entities.NotificationOrderCancelled:
		b.WriteString("❌ <b>Order cancelled</b>\n")
	case entities.NotificationOrderExpired:
		b.WriteString("⌛ <b>Order expired</b>\n")
	case entities.NotificationOrderCompleted:
		b.WriteString("✅ <b>Order completed</b>\n")
	default:
		b.WriteString(fmt.Sprintf("<b>Order event: %s</b>\n", typ))
	}

	currency := p.Currency
	if p.TokenStandard != nil {
		currency = fmt.Sprintf("%s (%s)", p.Currency, *p.TokenStandard)
	}

	fmt.Fprintf(&b, "Order: <code>%s</code>\n", p.OrderID)
	fmt.Fprintf(&b, "Amount: %s %s ≈ %s UAH\n", p.CryptoAmount.String(), currency, p.UAHAmount.String())
	if !p.Rate.IsZero() {
		fmt.Fprintf(&b, "Rate: %s\n", p.Rate.String())
	}
	fmt.Fprintf(&b, "Deposit: <code>%s</code>", p.DepositAddress)

	if typ == entities.NotificationOrderCreated && p.WalletReused {
		b.WriteString("\n⚠️ Address is shared across orders, match the deposit by exact amount.")
	}

	return b.String()
}

// renderKeyboard builds the inline action keyboard. Only creation events get
// the take-order action; every event keeps a details link.
func renderKeyboard(typ entities.NotificationType, orderID string) *InlineKeyboard {
	details := InlineButton{Text: "Details", CallbackData: "order:details:" + orderID}

	if typ == entities.NotificationOrderCreated {
		return &InlineKeyboard{InlineKeyboard: [][]InlineButton{
			{{Text: "Take order", CallbackData: "order:take:" + orderID}, details},
		}}
	}

	return &InlineKeyboard{InlineKeyboard: [][]InlineButton{{details}}}
}
