package payments

import (
	"regexp"
	"sort"
)

// Family is the virtual machine family of a chain. The address format of
// PayTo decides which family's networks are acceptable.
type Family string

const (
	FamilyEVM Family = "evm"
	FamilySVM Family = "svm"
)

// Network describes one supported x402 network and its USDC asset.
type Network struct {
	// Name is the x402 v1 network name used in configuration and route
	// descriptors, e.g. "base-sepolia".
	Name string `json:"name"`
	// CAIP2 is the chain identifier, e.g. "eip155:84532".
	CAIP2   string `json:"caip2"`
	Family  Family `json:"family"`
	Testnet bool   `json:"testnet"`
	// Asset is the USDC contract (EVM) or mint (SVM) address.
	Asset    string `json:"asset"`
	Decimals int    `json:"decimals"`
	// EIP-3009 domain parameters; empty for SVM chains.
	AssetName    string `json:"assetName,omitempty"`
	AssetVersion string `json:"assetVersion,omitempty"`
}

var catalog = []Network{
	{Name: "base", CAIP2: "eip155:8453", Family: FamilyEVM,
		Asset: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6, AssetName: "USD Coin", AssetVersion: "2"},
	{Name: "base-sepolia", CAIP2: "eip155:84532", Family: FamilyEVM, Testnet: true,
		Asset: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Decimals: 6, AssetName: "USDC", AssetVersion: "2"},
	{Name: "avalanche", CAIP2: "eip155:43114", Family: FamilyEVM,
		Asset: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6, AssetName: "USD Coin", AssetVersion: "2"},
	{Name: "avalanche-fuji", CAIP2: "eip155:43113", Family: FamilyEVM, Testnet: true,
		Asset: "0x5425890298aed601595a70AB815c96711a31Bc65", Decimals: 6, AssetName: "USD Coin", AssetVersion: "2"},
	{Name: "polygon", CAIP2: "eip155:137", Family: FamilyEVM,
		Asset: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6, AssetName: "USD Coin", AssetVersion: "2"},
	{Name: "polygon-amoy", CAIP2: "eip155:80002", Family: FamilyEVM, Testnet: true,
		Asset: "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", Decimals: 6, AssetName: "USDC", AssetVersion: "2"},
	{Name: "iotex", CAIP2: "eip155:4689", Family: FamilyEVM,
		Asset: "0xcdf79194c6c285077a58da47641d4dbe51f63542", Decimals: 6, AssetName: "Bridged USDC", AssetVersion: "2"},
	{Name: "sei", CAIP2: "eip155:1329", Family: FamilyEVM,
		Asset: "0xe15fC38F6D8c56aF07bbCBe3BAf5708A2Bf42392", Decimals: 6, AssetName: "USDC", AssetVersion: "2"},
	{Name: "sei-testnet", CAIP2: "eip155:1328", Family: FamilyEVM, Testnet: true,
		Asset: "0x4fCF1784B31630811181f670Aea7A7bEF803eaED", Decimals: 6, AssetName: "USDC", AssetVersion: "2"},
	{Name: "peaq", CAIP2: "eip155:3338", Family: FamilyEVM,
		Asset: "0xbbA60da06c2c5424f03f7434542280FCAd453d10", Decimals: 6, AssetName: "USDC", AssetVersion: "2"},
	{Name: "solana", CAIP2: "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp", Family: FamilySVM,
		Asset: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
	{Name: "solana-devnet", CAIP2: "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1", Family: FamilySVM, Testnet: true,
		Asset: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", Decimals: 6},
}

var byName = func() map[string]Network {
	m := make(map[string]Network, len(catalog))
	for _, n := range catalog {
		m[n.Name] = n
	}
	return m
}()

var (
	evmAddressRegex    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// Networks returns the supported networks in catalog order.
func Networks() []Network {
	return append([]Network(nil), catalog...)
}

// LookupNetwork returns the catalog entry for an x402 network name.
func LookupNetwork(name string) (Network, bool) {
	n, ok := byName[name]
	return n, ok
}

// NetworkNames returns the names of networks in family, sorted. An empty
// family returns every name.
func NetworkNames(family Family) []string {
	var out []string
	for _, n := range catalog {
		if family == "" || n.Family == family {
			out = append(out, n.Name)
		}
	}
	sort.Strings(out)
	return out
}

// FamilyOf classifies a payee address. It returns "" when the address matches
// neither format.
func FamilyOf(address string) Family {
	switch {
	case evmAddressRegex.MatchString(address):
		return FamilyEVM
	case solanaAddressRegex.MatchString(address):
		return FamilySVM
	default:
		return ""
	}
}

func supported(family Family, network string) bool {
	n, ok := byName[network]
	if !ok {
		return false
	}
	return family == "" || n.Family == family
}
