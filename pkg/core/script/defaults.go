package script

// Step ids of the default script.
const (
	StepGreeting          = "greeting"
	StepLegalMentions     = "legal_mentions"
	StepDataVerification  = "data_verification"
	StepNeedsDiscovery    = "needs_discovery"
	StepOfferPresentation = "offer_presentation"
	StepObjectionHandling = "objection_handling"
	StepClosing           = "closing"
)

var defaultSteps = []Step{
	{
		ID:          StepGreeting,
		Title:       "Greeting",
		Description: "Greet the client, introduce yourself and the company.",
		Keywords:    []string{"bonjour", "je m'appelle", "je suis", "de la part de", "hello"},
		Required:    true,
	},
	{
		ID:          StepLegalMentions,
		Title:       "Legal mentions",
		Description: "State that the call is recorded and give the mandatory legal notices.",
		Keywords:    []string{"enregistré", "enregistrement", "qualité", "mentions légales", "rétractation"},
		Required:    true,
	},
	{
		ID:          StepDataVerification,
		Title:       "Identity verification",
		Description: "Confirm the client's identity and contact details.",
		Keywords:    []string{"nom", "prénom", "adresse", "date de naissance", "email", "confirmer"},
		Required:    true,
	},
	{
		ID:          StepNeedsDiscovery,
		Title:       "Needs discovery",
		Description: "Ask open questions about current viewing habits and what the client expects.",
		Keywords:    []string{"regardez", "habitudes", "préférez", "intéresse", "famille", "besoin"},
		Required:    true,
	},
	{
		ID:          StepOfferPresentation,
		Title:       "Offer presentation",
		Description: "Present the offer that matches the discovered needs, with price and commitment.",
		Keywords:    []string{"offre", "par mois", "engagement", "inclus", "chaînes", "promotion"},
		Required:    true,
	},
	{
		ID:          StepObjectionHandling,
		Title:       "Objection handling",
		Description: "Acknowledge and answer the client's objections.",
		Keywords:    []string{"je comprends", "justement", "trop cher", "réfléchir", "déjà abonné"},
		Required:    false,
	},
	{
		ID:          StepClosing,
		Title:       "Closing",
		Description: "Recap the offer, obtain explicit agreement and confirm next steps.",
		Keywords:    []string{"récapitulatif", "valider", "accord", "souscription", "confirmation"},
		Required:    true,
	},
}

// Default returns the canonical seven-step sales script.
func Default() *Definition {
	d, err := NewDefinition(defaultSteps)
	if err != nil {
		panic("script: invalid default definition: " + err.Error())
	}
	return d
}
