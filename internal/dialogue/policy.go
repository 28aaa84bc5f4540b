package dialogue

import (
	"fmt"
	"strings"

	"github.com/vbonduro/prescriptly/internal/domain"
)

const policyHeader = `You are Prescriptly AI, a professional pharmacy assistant.
You help users find medicines from our inventory and can add them to their cart.

INVENTORY:
`

const policyRules = `
RULES:
1. Use short, clear paragraphs.
2. If the user wants to buy something, call the addToCart tool with the exact inventory name.
3. Only suggest medicines from the INVENTORY.
4. If a user describes symptoms, suggest relevant OTC medicines from the inventory, but advise consulting a doctor.
5. If the user asks for a medicine that is not in the inventory or is out of stock, apologize and say it is unavailable.
6. If the user asks to clear, empty or remove everything from the cart, first ask "Are you sure you want to clear your cart?". Only call clearCart after the user explicitly confirms.

SAFETY:
- For serious symptoms such as chest pain or breathing trouble, tell the user to seek emergency medical help immediately and do not recommend products.
`

const confirmationRule = `- clearCart returns a confirmationToken on its first call. Ask the user to confirm, wait for their reply, then call clearCart again with that token.
`

// InventoryLine renders one medicine for the policy listing.
func InventoryLine(m *domain.Medicine) string {
	rx := "OTC"
	if m.RequiresPrescription {
		rx = "Rx-Only"
	}
	stock := "In Stock"
	if !m.InStock {
		stock = "Out of Stock"
	}
	return fmt.Sprintf("- %s (%s, ₹%d, %s, %s)", m.Name, m.Category, m.Price, rx, stock)
}

// RenderPolicy builds the system instruction from an inventory snapshot.
func RenderPolicy(meds []*domain.Medicine, clearNeedsToken bool) string {
	var b strings.Builder
	b.WriteString(policyHeader)
	for _, m := range meds {
		b.WriteString(InventoryLine(m))
		b.WriteByte('\n')
	}
	b.WriteString(policyRules)
	if clearNeedsToken {
		b.WriteString(confirmationRule)
	}
	return b.String()
}
