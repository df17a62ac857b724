package disco

import (
	"strings"
	"testing"

	"github.com/meszmate/qbsdk/internal/xmpp/element"
)

func TestItemsQuery(t *testing.T) {
	iq := ItemsQuery("1:muc_disco_items", "", "1_a@muc")
	out := iq.String()
	if !strings.Contains(out, `to="1_a@muc"`) || !strings.Contains(out, "disco#items") {
		t.Fatalf("unexpected query %s", out)
	}
	if strings.Contains(out, "from=") {
		t.Fatalf("empty from should be omitted: %s", out)
	}
}

func TestParseItems(t *testing.T) {
	raw := `<iq type="result"><query xmlns="http://jabber.org/protocol/disco#items">` +
		`<item jid="1_a@muc/10"/><item jid="1_a@muc/11" name="eleven"/></query></iq>`
	iq, err := element.Parse(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	items := ParseItems(iq)
	if len(items) != 2 || items[1].JID != "1_a@muc/11" || items[1].Name != "eleven" {
		t.Fatalf("unexpected items %+v", items)
	}
}
