package compose

// Category groups catalog services by role.
type Category string

const (
	CategoryDatabase  Category = "database"
	CategoryCache     Category = "cache"
	CategoryWebServer Category = "web-server"
	CategoryRuntime   Category = "runtime"
	CategoryAdmin     Category = "admin"
)

// ServiceInfo describes one service the generator knows how to render.
type ServiceInfo struct {
	Name        string
	DisplayName string
	Description string
	DefaultPort int
	Category    Category
}

var catalog = []ServiceInfo{
	{"postgresql", "PostgreSQL", "Advanced open source relational database", 5432, CategoryDatabase},
	{"mysql", "MySQL", "Popular open source relational database", 3306, CategoryDatabase},
	{"redis", "Redis", "In-memory data structure store", 6379, CategoryCache},
	{"nginx", "Nginx", "High performance web server & reverse proxy", 80, CategoryWebServer},
	{"apache", "Apache", "The most widely used web server", 8080, CategoryWebServer},
	{"php", "PHP-FPM", "PHP FastCGI process manager", 9000, CategoryRuntime},
	{"phpmyadmin", "phpMyAdmin", "Web interface for MySQL administration", 8081, CategoryAdmin},
	{"pgadmin", "pgAdmin", "Web interface for PostgreSQL administration", 8082, CategoryAdmin},
	{"adminer", "Adminer", "Universal database management UI", 8083, CategoryAdmin},
}

// Catalog lists every service the generator supports.
func Catalog() []ServiceInfo {
	out := make([]ServiceInfo, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup finds a catalog entry by name.
func Lookup(name string) (ServiceInfo, bool) {
	for _, info := range catalog {
		if info.Name == name {
			return info, true
		}
	}
	return ServiceInfo{}, false
}
