// Package neat provides a Go implementation of the NeuroEvolution of Augmenting Topologies (NEAT) algorithm.
//
// NEAT is a genetic algorithm for the generation of evolving artificial neural networks.
// It alters both the weighting parameters and structures of networks, attempting to find
// a balance between the fitness of evolved solutions and their diversity.
//
// This implementation follows the original paper by Kenneth O. Stanley and Risto Miikkulainen.
// Structural mutations are tracked with innovation numbers handed out by a per-epoch ledger,
// so genomes that make the same change in the same epoch stay aligned for crossover.
// Genomes are grouped into species by compatibility distance and share fitness within
// their species; every species champion survives each epoch unchanged.
//
// Basic usage:
//
//	// Load configuration
//	config, err := neat.LoadConfig("path/to/config.ini")
//	if err != nil {
//		log.Fatalf("Error loading config: %v", err)
//	}
//
//	// Create a new population
//	pop, err := neat.NewPopulation(config, neat.WithLogger(logger))
//	if err != nil {
//		log.Fatalf("Error creating population: %v", err)
//	}
//
//	// Run for up to 100 epochs with your evaluator
//	winner, err := pop.Run(ctx, neat.EvaluatorFunc(evaluate), 100)
//	if err != nil {
//		log.Fatalf("Error running evolution: %v", err)
//	}
//	if winner != nil {
//		fmt.Println("Solution found!")
//	}
//
// Feed-forward genomes can be compiled into a faster network with the nn subpackage.
package neat
