package synth

import (
	"slices"
	"strings"
	"unicode"

	"github.com/vango-go/vai-coach/pkg/core/script"
)

// transitionSteps are the steps during which an objection warrants a nudge
// back toward the offer.
var transitionSteps = map[string]bool{
	script.StepOfferPresentation: true,
	script.StepObjectionHandling: true,
}

const recapOffer = " Voulez-vous que je vous fasse un récapitulatif rapide de l'offre ?"

type transitionRule struct {
	name     string
	keywords []string
	text     string
}

// Rules are checked in order; the first whose keywords appear wins.
var transitionRules = []transitionRule{
	{
		name:     "sport",
		keywords: []string{"sport", "foot", "match", "ligue", "rugby", "tennis", "football"},
		text:     "Au-delà du sport, l'offre vous donne aussi accès à tout le catalogue cinéma et séries, de quoi en profiter toute la famille.",
	},
	{
		name:     "price",
		keywords: []string{"cher", "prix", "coût", "cout", "coûte", "coute", "budget", "tarif", "expensive", "price"},
		text:     "Ramené à la journée, cela représente moins qu'un café pour des centaines de programmes, sans frais cachés.",
	},
	{
		name:     "think",
		keywords: []string{"réfléchir", "reflechir", "réfléchis", "pas sûr", "plus tard", "think about", "not sure"},
		text:     "Je comprends. Le mieux est encore d'essayer : vous profitez de la période d'essai et vous décidez ensuite, sans engagement.",
	},
	{
		name:     "competitor",
		keywords: []string{"déjà abonné", "deja abonne", "déjà un abonnement", "concurrent", "netflix", "canal", "autre opérateur", "already have"},
		text:     "Notre offre vient compléter ce que vous avez déjà plutôt que le remplacer : les contenus ne font pas doublon.",
	},
}

const defaultTransition = "C'est une remarque légitime. Prenons un instant pour voir ce que l'offre vous apporte concrètement au quotidien, au meilleur rapport qualité-prix."

// transitionText picks the transition for an objection by keyword heuristics.
// Keywords match whole words, and multi-word keywords match consecutive words.
// The returned text always ends with an offer to recap.
func transitionText(objection string) (rule, text string) {
	words := tokenize(objection)
	for _, r := range transitionRules {
		for _, kw := range r.keywords {
			if containsPhrase(words, tokenize(kw)) {
				return r.name, r.text + recapOffer
			}
		}
	}
	return "default", defaultTransition + recapOffer
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		if slices.Equal(words[i:i+len(phrase)], phrase) {
			return true
		}
	}
	return false
}
