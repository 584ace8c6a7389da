package tokenpoolregistry

import "github.com/ethereum/go-ethereum/common"

// TokenPoolRegistry is a simple, non-thread-safe graph of tokens connected by
// the pools that trade them. Every edge keeps its pools in insertion order,
// which is the order pools are reported for a pair.
type TokenPoolRegistry struct {
	// Lookups for fast index retrieval
	tokenToIndex map[common.Address]int
	poolToIndex  map[common.Address]int

	// Core data stored in slices for cache-friendly access
	tokens              []common.Address
	pools               []common.Address
	adjacency           [][]int
	edgeTargets         []int
	edgePools           [][]int
	danglingEdgeCount   int
	compactionThreshold int
}

// NewTokenPoolRegistry creates a new, properly initialized graph-based registry.
func NewTokenPoolRegistry(compactionThreshold int) *TokenPoolRegistry {
	if compactionThreshold <= 0 {
		compactionThreshold = 1000
	}
	return &TokenPoolRegistry{
		tokenToIndex:        make(map[common.Address]int),
		poolToIndex:         make(map[common.Address]int),
		compactionThreshold: compactionThreshold,
	}
}

func (r *TokenPoolRegistry) tokenIndex(token common.Address) int {
	index, exists := r.tokenToIndex[token]
	if !exists {
		index = len(r.tokens)
		r.tokens = append(r.tokens, token)
		r.tokenToIndex[token] = index
		r.adjacency = append(r.adjacency, nil)
	}
	return index
}

// addEdge creates or updates the directed edge from one token to another,
// associating it with pool.
func (r *TokenPoolRegistry) addEdge(from, to, pool common.Address) {
	fromIndex := r.tokenIndex(from)
	toIndex := r.tokenIndex(to)
	poolIndex, exists := r.poolToIndex[pool]
	if !exists {
		poolIndex = len(r.pools)
		r.pools = append(r.pools, pool)
		r.poolToIndex[pool] = poolIndex
	}

	for _, edgeIndex := range r.adjacency[fromIndex] {
		if r.edgeTargets[edgeIndex] != toIndex {
			continue
		}
		for _, existing := range r.edgePools[edgeIndex] {
			if existing == poolIndex {
				return
			}
		}
		if len(r.edgePools[edgeIndex]) == 0 {
			// reviving a dangling edge
			r.danglingEdgeCount--
		}
		r.edgePools[edgeIndex] = append(r.edgePools[edgeIndex], poolIndex)
		return
	}

	newEdgeIndex := len(r.edgeTargets)
	r.edgeTargets = append(r.edgeTargets, toIndex)
	r.edgePools = append(r.edgePools, []int{poolIndex})
	r.adjacency[fromIndex] = append(r.adjacency[fromIndex], newEdgeIndex)
}

// add connects every pair of tokens in the pool.
func (r *TokenPoolRegistry) add(tokens []common.Address, pool common.Address) {
	for i := 0; i < len(tokens); i++ {
		for j := i + 1; j < len(tokens); j++ {
			r.addEdge(tokens[i], tokens[j], pool)
			r.addEdge(tokens[j], tokens[i], pool)
		}
	}
}

// removePool removes the pool from every edge. Edges left without pools
// become dangling until the next compaction.
func (r *TokenPoolRegistry) removePool(pool common.Address) {
	poolIndexToRemove, exists := r.poolToIndex[pool]
	if !exists {
		return
	}

	for edgeIndex, poolList := range r.edgePools {
		if len(poolList) == 0 {
			continue
		}

		newPoolList := poolList[:0]
		wasRemoved := false
		for _, pIndex := range poolList {
			if pIndex != poolIndexToRemove {
				newPoolList = append(newPoolList, pIndex)
			} else {
				wasRemoved = true
			}
		}

		if wasRemoved {
			r.edgePools[edgeIndex] = newPoolList
			if len(newPoolList) == 0 {
				r.danglingEdgeCount++
			}
		}
	}

	if r.danglingEdgeCount > r.compactionThreshold {
		r.compact()
	}
}

// removeToken marks every edge touching the token as dangling.
func (r *TokenPoolRegistry) removeToken(token common.Address) {
	tokenIndexToRemove, exists := r.tokenToIndex[token]
	if !exists {
		return
	}

	for _, edgeIndex := range r.adjacency[tokenIndexToRemove] {
		if len(r.edgePools[edgeIndex]) > 0 {
			r.edgePools[edgeIndex] = nil
			r.danglingEdgeCount++
		}
	}
	r.adjacency[tokenIndexToRemove] = nil

	for edgeIndex, targetIndex := range r.edgeTargets {
		if targetIndex == tokenIndexToRemove && len(r.edgePools[edgeIndex]) > 0 {
			r.edgePools[edgeIndex] = nil
			r.danglingEdgeCount++
		}
	}

	if r.danglingEdgeCount > r.compactionThreshold {
		r.compact()
	}
}

// compact rebuilds all internal data structures to physically remove dangling entries.
func (r *TokenPoolRegistry) compact() {
	if r.danglingEdgeCount == 0 {
		return
	}

	// Step 1: keep only edges that still have pools.
	oldToNewEdgeIndex := make(map[int]int, len(r.edgeTargets))
	newEdgeTargets := make([]int, 0, len(r.edgeTargets))
	newEdgePools := make([][]int, 0, len(r.edgePools))
	for readIdx, poolList := range r.edgePools {
		if len(poolList) > 0 {
			oldToNewEdgeIndex[readIdx] = len(newEdgeTargets)
			newEdgeTargets = append(newEdgeTargets, r.edgeTargets[readIdx])
			newEdgePools = append(newEdgePools, poolList)
		}
	}

	// Step 2: find tokens and pools still referenced by live edges.
	usedTokens := make(map[int]struct{})
	usedPools := make(map[int]struct{})
	for _, tokenIndex := range newEdgeTargets {
		usedTokens[tokenIndex] = struct{}{}
	}
	for i, adj := range r.adjacency {
		for _, oldEdgeIdx := range adj {
			if _, ok := oldToNewEdgeIndex[oldEdgeIdx]; ok {
				usedTokens[i] = struct{}{}
				break
			}
		}
	}
	for _, poolList := range newEdgePools {
		for _, poolIndex := range poolList {
			usedPools[poolIndex] = struct{}{}
		}
	}

	// Step 3: compact tokens.
	oldToNewTokenIndex := make(map[int]int, len(usedTokens))
	finalTokens := make([]common.Address, 0, len(usedTokens))
	finalTokenToIndex := make(map[common.Address]int, len(usedTokens))
	for oldIdx, token := range r.tokens {
		if _, ok := usedTokens[oldIdx]; ok {
			oldToNewTokenIndex[oldIdx] = len(finalTokens)
			finalTokenToIndex[token] = len(finalTokens)
			finalTokens = append(finalTokens, token)
		}
	}

	// Step 4: compact pools.
	oldToNewPoolIndex := make(map[int]int, len(usedPools))
	finalPools := make([]common.Address, 0, len(usedPools))
	finalPoolToIndex := make(map[common.Address]int, len(usedPools))
	for oldIdx, pool := range r.pools {
		if _, ok := usedPools[oldIdx]; ok {
			oldToNewPoolIndex[oldIdx] = len(finalPools)
			finalPoolToIndex[pool] = len(finalPools)
			finalPools = append(finalPools, pool)
		}
	}

	// Step 5: remap indices inside the compacted edges.
	for i := range newEdgeTargets {
		newEdgeTargets[i] = oldToNewTokenIndex[newEdgeTargets[i]]
	}
	for i, poolList := range newEdgePools {
		for j, oldPoolIdx := range poolList {
			newEdgePools[i][j] = oldToNewPoolIndex[oldPoolIdx]
		}
	}

	// Step 6: rebuild adjacency with the new indices.
	finalAdjacency := make([][]int, len(finalTokens))
	for oldTokenIdx, oldAdj := range r.adjacency {
		newTokenIdx, ok := oldToNewTokenIndex[oldTokenIdx]
		if !ok {
			continue
		}
		newAdj := make([]int, 0, len(oldAdj))
		for _, oldEdgeIdx := range oldAdj {
			if newEdgeIdx, ok := oldToNewEdgeIndex[oldEdgeIdx]; ok {
				newAdj = append(newAdj, newEdgeIdx)
			}
		}
		finalAdjacency[newTokenIdx] = newAdj
	}

	r.tokens = finalTokens
	r.tokenToIndex = finalTokenToIndex
	r.pools = finalPools
	r.poolToIndex = finalPoolToIndex
	r.edgeTargets = newEdgeTargets
	r.edgePools = newEdgePools
	r.adjacency = finalAdjacency
	r.danglingEdgeCount = 0
}

func (r *TokenPoolRegistry) poolsForToken(token common.Address) []common.Address {
	tokenIndex, exists := r.tokenToIndex[token]
	if !exists {
		return nil
	}

	seen := make(map[int]struct{})
	var out []common.Address
	for _, edgeIndex := range r.adjacency[tokenIndex] {
		for _, poolIndex := range r.edgePools[edgeIndex] {
			if _, dup := seen[poolIndex]; dup {
				continue
			}
			seen[poolIndex] = struct{}{}
			out = append(out, r.pools[poolIndex])
		}
	}
	return out
}

// poolsForPair returns the pools trading tokenA against tokenB, in the order
// they were added.
func (r *TokenPoolRegistry) poolsForPair(tokenA, tokenB common.Address) []common.Address {
	fromIndex, ok := r.tokenToIndex[tokenA]
	if !ok {
		return nil
	}
	toIndex, ok := r.tokenToIndex[tokenB]
	if !ok {
		return nil
	}
	for _, edgeIndex := range r.adjacency[fromIndex] {
		if r.edgeTargets[edgeIndex] != toIndex {
			continue
		}
		poolList := r.edgePools[edgeIndex]
		if len(poolList) == 0 {
			return nil
		}
		out := make([]common.Address, len(poolList))
		for i, poolIndex := range poolList {
			out[i] = r.pools[poolIndex]
		}
		return out
	}
	return nil
}

func (r *TokenPoolRegistry) tokenCount() int {
	return len(r.tokenToIndex)
}
