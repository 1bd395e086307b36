package tokenswap

var (
	stateKey = []byte("tokenswap/state")

	authoritySeed     = []byte("state")
	nativeCustodySeed = []byte("custody/native")
	outputCustodySeed = []byte("custody/output")
	assetACustodySeed = []byte("custody/asset-a")
	assetBCustodySeed = []byte("custody/asset-b")
)

func custodySeed(role AssetRole) []byte {
	switch role {
	case RoleNative:
		return nativeCustodySeed
	case RoleOutput:
		return outputCustodySeed
	case RoleAssetA:
		return assetACustodySeed
	case RoleAssetB:
		return assetBCustodySeed
	}
	return nil
}
