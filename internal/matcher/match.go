package matcher

import "nsebse-gap/internal/model"

// NSEListing is one row of the NSE equity list.
type NSEListing struct {
	Symbol      string
	CompanyName string
}

// BSEListing is one row of the BSE equity list.
type BSEListing struct {
	ScripCode   string
	CompanyName string
}

// Match left-joins nse against bse on CleanName. Every NSE row yields exactly
// one pair, in input order. When several BSE rows share a key the one with
// the lowest index wins. Rows whose key is empty never match, and neither do
// BSE rows without a scrip code. Unmatched pairs carry model.Unresolved.
func Match(nse []NSEListing, bse []BSEListing) []model.ListingPair {
	byName := make(map[string]string, len(bse))
	for _, b := range bse {
		key := CleanName(b.CompanyName)
		if key == "" || b.ScripCode == "" {
			continue
		}
		if _, seen := byName[key]; !seen {
			byName[key] = b.ScripCode
		}
	}

	pairs := make([]model.ListingPair, 0, len(nse))
	for _, n := range nse {
		code := model.Unresolved
		if key := CleanName(n.CompanyName); key != "" {
			if c, ok := byName[key]; ok {
				code = c
			}
		}
		pairs = append(pairs, model.ListingPair{
			CompanyName:  n.CompanyName,
			NSESymbol:    n.Symbol,
			BSEScripCode: code,
		})
	}
	return pairs
}

// Matched counts pairs with a BSE scrip code.
func Matched(pairs []model.ListingPair) int {
	n := 0
	for _, p := range pairs {
		if p.Resolved() {
			n++
		}
	}
	return n
}
