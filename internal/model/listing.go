package model

// Unresolved is stored in place of a BSE scrip code when the matcher found no
// BSE listing for an NSE company.
const Unresolved = "Not Available"

// ListingPair identifies the same company on both exchanges.
type ListingPair struct {
	CompanyName  string `json:"company_name"`
	NSESymbol    string `json:"nse_symbol"`
	BSEScripCode string `json:"bse_scrip_code"`
}

// Resolved reports whether the pair carries a usable BSE scrip code.
func (p ListingPair) Resolved() bool {
	return p.BSEScripCode != "" && p.BSEScripCode != Unresolved
}
