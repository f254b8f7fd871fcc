package marketplace

import (
	"fmt"
	"regexp"

	"github.com/maltedev/price-tracker/internal/parser"
)

const OzonName = "ozon"

// Ozon product paths carry a slug before the id: /product/<slug>-<id>/.
var ozonProductPath = regexp.MustCompile(`/product/(?:[^/?#]*-)?(\d+)/?`)

func Ozon() *Marketplace {
	return &Marketplace{
		Name:  OzonName,
		Hosts: []string{"ozon.ru"},
		Article: func(input string) string {
			if m := ozonProductPath.FindStringSubmatch(input); m != nil {
				return m[1]
			}
			return FirstDigitRun(input)
		},
		ListingURL: func(article string) string {
			return fmt.Sprintf("https://www.ozon.ru/product/%s/", article)
		},
		Fields: parser.FieldSet{
			Name: []parser.Strategy{
				parser.Text(`[data-widget="webProductHeading"] h1`),
				parser.Text("h1"),
			},
			Price: []parser.Strategy{
				parser.Text(`[data-widget="webPrice"] span[class*="tsHeadline600"]`),
				parser.Text(`[data-widget="webPrice"] span`),
				parser.Meta("product:price:amount"),
			},
			PreviousPrice: []parser.Strategy{
				parser.Text(`[data-widget="webPrice"] span[class*="tsBodyControl"]`),
			},
			Image: []parser.Strategy{
				parser.Attr(`[data-widget="webGallery"] img`, "src"),
				parser.Meta("og:image"),
			},
		},
	}
}
