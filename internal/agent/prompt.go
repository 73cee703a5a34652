package agent

import (
	"fmt"
	"strings"
)

// welcomePrompt asks for a short plain-text greeting, no JSON.
const welcomePrompt = "Skriv en kort, varm og uformel velkomsthilsen på dansk til en vennegruppe i København.\n" +
	"Fortæl at du er deres nye Cph City Ping Bot 🤖, at du kan fiske fede events frem i byen,\n" +
	"og at du ca. hver eller hveranden uge dumper et hyggeligt forslag i tråden, så de får en god grund til at ses.\n" +
	"Hold det legende og chill i tonen. Max 320 tegn. Kun ren tekst – ingen JSON."

// buildPrompt produces the full JSON-schema instruction prompt for one
// regular cycle. labels carry the embedded dates the assistant must echo
// back verbatim; prefs biases the event search.
func buildPrompt(labels []string, prefs string) string {
	var b strings.Builder
	b.WriteString("Du må browse nettet.\n")
	b.WriteString("Opgave: Generér alt indhold til en kort dansk SMS for en vennegruppe i København.\n")
	b.WriteString("1) Skriv ÉN varm, uformel intro (10–20 ord, gerne med lidt humor eller en kærlig stikpille til vennerne).\n")
	fmt.Fprintf(&b, "2) Lav vejrskitse for København KUN for disse dage i rækkefølge: %s. ", strings.Join(labels, ", "))
	b.WriteString(`Format pr. element: {"label":"<Dag>", "icon":"EMOJI", "tmax":<heltal>} (brug danske ugedage).` + "\n")
	fmt.Fprintf(&b, "3) Find 6 aktuelle events i København denne uge. Prioritér: %s. ", prefs)
	b.WriteString(`Format pr. event: {"title":"…","where":"…","kind":"event"}.` + "\n")
	b.WriteString("(titler må gerne lyde fristende eller lidt fjollede)\n")
	b.WriteString("4) Lav en kort sign-off (én sætning), hyggelig, neutral – men med et glimt i øjet.\n\n")
	b.WriteString("Svar KUN som gyldig JSON i dette skema:\n")
	b.WriteString("{\n")
	b.WriteString(`  "intro": "...",` + "\n")
	b.WriteString(`  "forecast": [ {"label":"Man 01/09","icon":"☀️","tmax":22}, ... ],` + "\n")
	b.WriteString(`  "events":   [ {"title":"…","where":"…","kind":"event"}, ... ],` + "\n")
	b.WriteString(`  "signoff":  "..."` + "\n")
	b.WriteString("}\n")
	b.WriteString("Ingen forklaringer, ingen markdown – KUN JSON.")
	return b.String()
}
