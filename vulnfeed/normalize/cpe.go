package normalize

import (
	"strings"

	"github.com/SiriusScan/go-vulnfeed/cvefeed"
	"github.com/SiriusScan/go-vulnfeed/vulnfeed"
)

// attribution derives the vendor and affected products from the vulnerable
// CPE matches of an advisory. More than one vendor (or none) yields
// vulnfeed.DefaultVendor; products are de-duplicated in source order.
func attribution(configs []cvefeed.Config) (string, []string) {
	products := []string{}
	seenProduct := map[string]bool{}
	var vendors []string
	seenVendor := map[string]bool{}

	for _, cfg := range configs {
		for _, node := range cfg.Nodes {
			for _, match := range node.CpeMatch {
				if !match.Vulnerable {
					continue
				}
				vendor, product, ok := parseCPE(match.Criteria)
				if !ok {
					continue
				}
				if !seenVendor[vendor] {
					seenVendor[vendor] = true
					vendors = append(vendors, vendor)
				}
				if product != "" && !seenProduct[product] {
					seenProduct[product] = true
					products = append(products, product)
				}
			}
		}
	}

	if len(vendors) == 1 {
		return vendors[0], products
	}
	return vulnfeed.DefaultVendor, products
}

// parseCPE splits a CPE 2.3 formatted string
// (cpe:2.3:part:vendor:product:version:...) into vendor and product.
func parseCPE(criteria string) (vendor, product string, ok bool) {
	parts := strings.Split(criteria, ":")
	if len(parts) < 5 || parts[0] != "cpe" || parts[1] != "2.3" {
		return "", "", false
	}
	vendor = cpeValue(parts[3])
	if vendor == "" {
		return "", "", false
	}
	return vendor, cpeValue(parts[4]), true
}

func cpeValue(v string) string {
	if v == "*" || v == "-" {
		return ""
	}
	return strings.ReplaceAll(v, "\\", "")
}
