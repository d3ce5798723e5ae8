package engine

import (
	"math"
	"math/rand"
	"sort"
)

// defaultSeed is used when a request leaves the seed at zero.
const defaultSeed = 42

// GeneticConfig holds parameters for the genetic algorithm strategy.
type GeneticConfig struct {
	PopulationSize int
	Generations    int
	MutationRate   float64
	TournamentSize int
	EliteCount     int
	Stagnation     int // stop after this many generations without improvement; 0 = never
}

// DefaultGeneticConfig returns sensible default parameters.
func DefaultGeneticConfig() GeneticConfig {
	return GeneticConfig{
		PopulationSize: 30,
		Generations:    60,
		MutationRate:   0.15,
		TournamentSize: 3,
		EliteCount:     2,
		Stagnation:     20,
	}
}

// GeneticStrategy evolves piece order and rotation choice, decoding each
// candidate with the maximal rectangles packer. It is stochastic and draws
// only from the job seed.
type GeneticStrategy struct {
	Config GeneticConfig
}

func NewGeneticStrategy(cfg GeneticConfig) GeneticStrategy {
	return GeneticStrategy{Config: cfg}
}

func (GeneticStrategy) Name() string     { return "genetic" }
func (GeneticStrategy) Stochastic() bool { return true }

// gene represents a single piece placement decision in the chromosome.
type gene struct {
	item int // index into the placeable items
	fp   int // preferred footprint (rotation) for that item
}

// chromosome represents a candidate solution: an ordering of items with
// rotation choices.
type chromosome struct {
	genes   []gene
	fitness float64
}

type geneticOptimizer struct {
	config GeneticConfig
	job    Job
	items  []Item
	fps    [][]footprint
	rng    *rand.Rand
}

func (gs GeneticStrategy) Place(job Job) SheetPlan {
	g := &geneticOptimizer{config: gs.Config, job: job}
	var leftover []Item
	for _, it := range job.Items {
		fps := fitting(footprints(it, job.Margin), job.SheetWidth, job.MaxLength)
		if len(fps) == 0 {
			leftover = append(leftover, it)
			continue
		}
		g.items = append(g.items, it)
		g.fps = append(g.fps, fps)
	}
	if len(g.items) == 0 {
		return SheetPlan{Leftover: sortByOrder(leftover)}
	}

	seed := job.Seed
	if seed == 0 {
		seed = defaultSeed
	}
	g.rng = rand.New(rand.NewSource(seed))

	// Scale generations for larger problems, capped by the iteration budget.
	if len(g.items) > 20 {
		g.config.Generations += g.config.Generations / 2
	}
	if len(g.items) > 50 {
		g.config.PopulationSize += g.config.PopulationSize / 2
	}
	if g.config.Generations > job.budget() {
		g.config.Generations = job.budget()
	}

	best, generations := g.optimize()
	plan := g.decode(best)
	plan.Iterations = generations
	plan.Leftover = sortByOrder(append(plan.Leftover, leftover...))
	return plan
}

// optimize runs the genetic algorithm and returns the best chromosome and
// the number of generations evolved.
func (g *geneticOptimizer) optimize() (chromosome, int) {
	population := g.initPopulation()
	for i := range population {
		population[i].fitness = g.evaluate(population[i])
	}
	g.sortPopulation(population)

	bestFitness := population[0].fitness
	stale := 0
	gen := 0
	for ; gen < g.config.Generations; gen++ {
		if g.job.stopped() {
			break
		}
		newPop := make([]chromosome, 0, g.config.PopulationSize)

		// Elitism: carry over the best individuals unchanged
		eliteCount := g.config.EliteCount
		if eliteCount > len(population) {
			eliteCount = len(population)
		}
		for i := 0; i < eliteCount; i++ {
			newPop = append(newPop, g.copyChromosome(population[i]))
		}

		for len(newPop) < g.config.PopulationSize {
			parent1 := g.tournamentSelect(population)
			parent2 := g.tournamentSelect(population)

			child := g.orderCrossover(parent1, parent2)
			g.mutate(&child)

			child.fitness = g.evaluate(child)
			newPop = append(newPop, child)
		}

		population = newPop
		g.sortPopulation(population)

		if population[0].fitness > bestFitness+tolerance {
			bestFitness = population[0].fitness
			stale = 0
		} else {
			stale++
			if g.config.Stagnation > 0 && stale >= g.config.Stagnation {
				gen++
				break
			}
		}
	}
	return population[0], gen
}

// sortPopulation orders by fitness descending. The stable sort keeps equal
// individuals in creation order so runs repeat exactly.
func (g *geneticOptimizer) sortPopulation(population []chromosome) {
	sort.SliceStable(population, func(i, j int) bool {
		return population[i].fitness > population[j].fitness
	})
}

// initPopulation creates the initial random population.
func (g *geneticOptimizer) initPopulation() []chromosome {
	n := len(g.items)
	size := g.config.PopulationSize
	if size < 1 {
		size = 1
	}
	population := make([]chromosome, size)

	for i := range population {
		genes := make([]gene, n)
		perm := g.rng.Perm(n)
		for j := 0; j < n; j++ {
			genes[j] = gene{item: perm[j], fp: g.rng.Intn(len(g.fps[perm[j]]))}
		}
		population[i] = chromosome{genes: genes}
	}

	// Seed one chromosome with the greedy order (largest area first)
	population[0] = g.createGreedyChromosome()
	return population
}

// createGreedyChromosome creates a chromosome sorted by area descending with
// each item in its lowest orientation.
func (g *geneticOptimizer) createGreedyChromosome() chromosome {
	n := len(g.items)
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		ai := g.items[indices[i]].Shape.Area()
		aj := g.items[indices[j]].Shape.Area()
		if math.Abs(ai-aj) > tolerance {
			return ai > aj
		}
		return itemLess(g.items[indices[i]], g.items[indices[j]])
	})

	genes := make([]gene, n)
	for i, idx := range indices {
		low := lowest(g.fps[idx])
		choice := 0
		for k, fp := range g.fps[idx] {
			if fp.angle == low.angle {
				choice = k
				break
			}
		}
		genes[i] = gene{item: idx, fp: choice}
	}
	return chromosome{genes: genes}
}

// evaluate computes the fitness of a chromosome by decoding it into a
// packing and measuring sheet utilization.
func (g *geneticOptimizer) evaluate(c chromosome) float64 {
	plan := g.decode(c)
	if len(plan.Placements) == 0 {
		return 0
	}
	length, usedWidth := extent(plan.Placements, g.job.SheetWidth, g.job.Margin)
	var placedArea float64
	for _, p := range plan.Placements {
		placedArea += p.Area()
	}
	efficiency := placedArea / (length * usedWidth)

	// Penalize pieces left for another sheet heavily
	unplacedPenalty := float64(len(plan.Leftover)) * 0.1

	fitness := efficiency - unplacedPenalty
	if fitness < 0 {
		fitness = 0
	}
	return fitness
}

// decode packs the items in chromosome order, trying each gene's preferred
// rotation first and the remaining rotations after it.
func (g *geneticOptimizer) decode(c chromosome) SheetPlan {
	packer := newMaxRectsPacker(g.job.SheetWidth, binLength(g.job))
	var plan SheetPlan
	for _, gn := range c.genes {
		it := g.items[gn.item]
		fps := g.fps[gn.item]
		preferred := fps[gn.fp]

		placed := false
		if ok, x, y := packer.insert(preferred.w, preferred.h); ok {
			plan.Placements = append(plan.Placements, placement(it, preferred, x, y, g.job.Margin))
			placed = true
		}
		for k := 0; !placed && k < len(fps); k++ {
			if k == gn.fp {
				continue
			}
			if ok, x, y := packer.insert(fps[k].w, fps[k].h); ok {
				plan.Placements = append(plan.Placements, placement(it, fps[k], x, y, g.job.Margin))
				placed = true
			}
		}
		if !placed {
			plan.Leftover = append(plan.Leftover, it)
		}
	}
	return plan
}

// tournamentSelect picks the best individual from a random tournament.
func (g *geneticOptimizer) tournamentSelect(population []chromosome) chromosome {
	best := population[g.rng.Intn(len(population))]
	for i := 1; i < g.config.TournamentSize; i++ {
		candidate := population[g.rng.Intn(len(population))]
		if candidate.fitness > best.fitness {
			best = candidate
		}
	}
	return g.copyChromosome(best)
}

// orderCrossover implements Order Crossover (OX1) for permutation chromosomes.
// It preserves the relative order of genes from both parents.
func (g *geneticOptimizer) orderCrossover(parent1, parent2 chromosome) chromosome {
	n := len(parent1.genes)
	if n <= 2 {
		return g.copyChromosome(parent1)
	}

	point1 := g.rng.Intn(n)
	point2 := g.rng.Intn(n)
	if point1 > point2 {
		point1, point2 = point2, point1
	}

	child := chromosome{genes: make([]gene, n)}

	// Copy segment from parent1
	inSegment := make(map[int]bool)
	for i := point1; i <= point2; i++ {
		child.genes[i] = parent1.genes[i]
		inSegment[parent1.genes[i].item] = true
	}

	// Fill remaining positions with genes from parent2 in order
	childIdx := (point2 + 1) % n
	for _, pg := range parent2.genes {
		if !inSegment[pg.item] {
			child.genes[childIdx] = pg
			childIdx = (childIdx + 1) % n
		}
	}

	return child
}

// mutate applies random mutations to a chromosome.
func (g *geneticOptimizer) mutate(c *chromosome) {
	n := len(c.genes)
	if n < 1 {
		return
	}

	// Swap mutation
	if n > 1 && g.rng.Float64() < g.config.MutationRate {
		i := g.rng.Intn(n)
		j := g.rng.Intn(n)
		c.genes[i], c.genes[j] = c.genes[j], c.genes[i]
	}

	// Rotation mutation: pick another footprint for a random gene
	if g.rng.Float64() < g.config.MutationRate {
		i := g.rng.Intn(n)
		c.genes[i].fp = g.rng.Intn(len(g.fps[c.genes[i].item]))
	}

	// Inversion mutation: reverse a small segment (less frequent)
	if n > 1 && g.rng.Float64() < g.config.MutationRate*0.5 {
		i := g.rng.Intn(n)
		j := g.rng.Intn(n)
		if i > j {
			i, j = j, i
		}
		for i < j {
			c.genes[i], c.genes[j] = c.genes[j], c.genes[i]
			i++
			j--
		}
	}
}

// copyChromosome creates a deep copy of a chromosome.
func (g *geneticOptimizer) copyChromosome(c chromosome) chromosome {
	genes := make([]gene, len(c.genes))
	copy(genes, c.genes)
	return chromosome{genes: genes, fitness: c.fitness}
}
