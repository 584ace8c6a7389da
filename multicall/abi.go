package multicall

// OracleABI describes the price oracle capability as contract functions.
// Calls submitted to an Executor are encoded against it.
const OracleABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "tokenA", "type": "address"},
			{"internalType": "address", "name": "tokenB", "type": "address"}
		],
		"name": "canSupportPair",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "tokenA", "type": "address"},
			{"internalType": "address", "name": "tokenB", "type": "address"}
		],
		"name": "isPairAlreadySupported",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "tokenA", "type": "address"},
			{"internalType": "address", "name": "tokenB", "type": "address"},
			{"internalType": "bytes", "name": "data", "type": "bytes"}
		],
		"name": "addOrModifySupportForPair",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "tokenA", "type": "address"},
			{"internalType": "address", "name": "tokenB", "type": "address"},
			{"internalType": "bytes", "name": "data", "type": "bytes"}
		],
		"name": "addSupportForPairIfNeeded",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "tokenIn", "type": "address"},
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "address", "name": "tokenOut", "type": "address"},
			{"internalType": "bytes", "name": "data", "type": "bytes"}
		],
		"name": "quote",
		"outputs": [{"internalType": "uint256", "name": "amountOut", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`
