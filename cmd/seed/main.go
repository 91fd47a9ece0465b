// Command seed fills Redis with a demo site, users, and comment threads
// for local development.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"
	"github.com/threadkit/threadkit/internal/cache"
	"github.com/threadkit/threadkit/internal/config"
	"github.com/threadkit/threadkit/internal/indexes"
	"github.com/threadkit/threadkit/internal/models"
	"github.com/threadkit/threadkit/internal/pagetree"
	"github.com/threadkit/threadkit/internal/sanitize"
	"github.com/threadkit/threadkit/internal/sites"
	"github.com/threadkit/threadkit/internal/users"
	"github.com/threadkit/threadkit/internal/votes"
)

const (
	seedUsers       = 25
	seedPages       = 4
	seedRootsMin    = 5
	seedRootsMax    = 12
	seedReplyChance = 60 // percent, per root comment
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	rdb, err := cache.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connect failed: %v", err)
	}
	defer rdb.Close()

	userStore := users.NewStore(rdb)
	siteStore := sites.NewStore(rdb)
	pages := pagetree.NewEngine(rdb)
	voteEngine := votes.NewEngine(rdb, pages)
	keeper := indexes.NewKeeper(rdb)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	site := models.NewSite("ThreadKit Demo", "demo.localhost")
	site.Settings.AllowAnonymous = true
	site.Settings.AllowedOrigins = []string{"*"}
	if err := siteStore.Save(ctx, site); err != nil {
		log.Fatalf("save site: %v", err)
	}
	fmt.Println("site:       ", site.ID)
	fmt.Println("public key: ", site.APIKeyPublic)
	fmt.Println("secret key: ", site.APIKeySecret)

	seeded := make([]*models.User, 0, seedUsers)
	for i := 0; i < seedUsers; i++ {
		u := models.NewUser(gofakeit.Username())
		u.Email = strings.ToLower(gofakeit.Email())
		u.EmailVerified = true
		if err := userStore.Save(ctx, u); err != nil {
			log.Fatalf("save user: %v", err)
		}
		if err := userStore.IndexName(ctx, u.Name, u.ID); err != nil {
			log.Fatalf("index name: %v", err)
		}
		if err := userStore.IndexEmail(ctx, u.Email, u.ID); err != nil {
			log.Fatalf("index email: %v", err)
		}
		seeded = append(seeded, u)
	}
	fmt.Printf("users:       %d\n", len(seeded))

	totalComments, totalVotes := 0, 0
	for p := 0; p < seedPages; p++ {
		pageURL := fmt.Sprintf("https://demo.localhost/posts/%s", gofakeit.Word())
		pageID := models.PageID(site.ID, pageURL)

		roots := seedRootsMin + rand.Intn(seedRootsMax-seedRootsMin+1)
		for r := 0; r < roots; r++ {
			author := seeded[rand.Intn(len(seeded))]
			path, err := createComment(ctx, pages, keeper, site.ID, pageID, nil, author)
			if err != nil {
				log.Fatalf("seed comment: %v", err)
			}
			totalComments++

			if rand.Intn(100) < seedReplyChance {
				replier := seeded[rand.Intn(len(seeded))]
				if _, err := createComment(ctx, pages, keeper, site.ID, pageID, path, replier); err != nil {
					log.Fatalf("seed reply: %v", err)
				}
				totalComments++
			}

			for v := 0; v < rand.Intn(6); v++ {
				voter := seeded[rand.Intn(len(seeded))]
				dir := models.VoteUp
				if rand.Intn(4) == 0 {
					dir = models.VoteDown
				}
				if _, err := voteEngine.Apply(ctx, pageID, path, voter.ID, dir, false); err != nil {
					continue // self-vote repeats just toggle, fine for seed data
				}
				totalVotes++
			}
		}
		fmt.Println("page:       ", pageURL)
	}
	fmt.Printf("comments:    %d\nvotes:       %d\n", totalComments, totalVotes)

	if len(os.Args) > 1 && os.Args[1] == "promote-first" {
		if err := keeper.SetRole(ctx, site.ID, seeded[0].ID, models.RoleAdmin); err != nil {
			log.Fatalf("promote: %v", err)
		}
		fmt.Printf("admin:       %s (%s)\n", seeded[0].Name, seeded[0].Email)
	}
}

func createComment(ctx context.Context, pages *pagetree.Engine, keeper *indexes.Keeper, siteID, pageID string, parentPath models.Path, author *models.User) (models.Path, error) {
	text := gofakeit.Sentence(8 + rand.Intn(18))
	c := &models.TreeComment{
		ID:         models.NewCommentID(),
		AuthorID:   author.ID,
		AuthorName: author.Name,
		Text:       text,
		HTML:       sanitize.CommentHTML(text),
		Karma:      author.Karma,
		CreatedAt:  time.Now().Add(-time.Duration(rand.Intn(72)) * time.Hour).UnixMilli(),
	}
	path, err := pages.Create(ctx, pageID, parentPath, c)
	if err != nil {
		return nil, err
	}
	return path, keeper.CommentCreated(ctx, siteID, pageID, path, c)
}
