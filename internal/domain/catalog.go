package domain

import "github.com/shopspring/decimal"

// DefaultCatalog returns the packages offered by the storefront.
func DefaultCatalog() []Package {
	return []Package{
		{
			ID:          "1",
			Name:        "Pacchetto Exclusive",
			Description: "Il massimo del lusso a Saranda. Soggiorno in hotel 5 stelle con vista panoramica sulla baia, servizio di concierge privato e accesso a spiagge esclusive. Un'esperienza indimenticabile sulla costa albanese.",
			Price:       decimal.NewFromInt(330),
			Location:    "Saranda, Albania",
			Rating:      4.8,
			Image:       "/pack1.jpeg",
			Features:    []string{"7 notti in hotel di lusso", "Pensione completa", "Transfer privato", "Tour esclusivi"},
		},
		{
			ID:          "2",
			Name:        "Pacchetto Premium",
			Description: "Scopri il perfetto equilibrio tra comfort e avventura. Esplora le meraviglie di Saranda con tour guidati, degustazioni della cucina locale e relax sulle splendide spiagge della Riviera Albanese.",
			Price:       decimal.NewFromInt(280),
			Location:    "Saranda, Albania",
			Rating:      4.9,
			Image:       "/pack2.jpeg",
			Features:    []string{"10 notti in hotel 4 stelle", "Prima colazione", "Tour culturali", "Attività acquatiche"},
		},
		{
			ID:          "3",
			Name:        "Pacchetto Base",
			Description: "La soluzione ideale per esplorare Saranda con budget contenuto. Alloggio confortevole, posizione strategica e la libertà di organizzare le tue giornate come preferisci nella perla dell'Albania.",
			Price:       decimal.NewFromInt(189),
			Location:    "Saranda, Albania",
			Rating:      4.7,
			Image:       "/pack3.jpeg",
			Features:    []string{"5 notti in hotel 3 stelle", "Prima colazione", "Guida turistica", "Assistenza 24/7"},
		},
	}
}
