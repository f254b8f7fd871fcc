package marketplace

import (
	"fmt"

	"github.com/maltedev/price-tracker/internal/parser"
)

const WildberriesName = "wildberries"

// Wildberries renders prices client side; the selector lists cover both the
// legacy product card and the current one.
func Wildberries() *Marketplace {
	return &Marketplace{
		Name:  WildberriesName,
		Hosts: []string{"wildberries.ru", "wildberries.by", "wildberries.kz", "wb.ru"},
		ListingURL: func(article string) string {
			return fmt.Sprintf("https://www.wildberries.ru/catalog/%s/detail.aspx", article)
		},
		Fields: parser.FieldSet{
			Name: []parser.Strategy{
				parser.Text("h1.product-page__title"),
				parser.Text(`h3[class*="productTitle"]`),
				parser.Text("h1"),
			},
			Price: []parser.Strategy{
				parser.Text("ins.price-block__final-price"),
				parser.Text("span.price-block__wallet-price"),
				parser.Text(`[class*="priceBlockFinalPrice"]`),
				parser.Text(`h2[class*="mo-typography"]`),
			},
			PreviousPrice: []parser.Strategy{
				parser.Text(`span[class*="priceBlockOldPrice"]`),
				parser.Text("del.price-block__old-price"),
			},
			Image: []parser.Strategy{
				parser.AttrContaining(".swiper-slide-active img", "src", "basket-"),
				parser.Attr(".mainSlide--TIHn4 img", "src"),
				parser.Attr(`[class*="mainSlide"] img`, "src"),
				parser.Attr(".photo-zoom__preview", "src"),
				parser.Meta("og:image"),
			},
		},
	}
}
