package config

// Usage is the configuration reference printed by --help.
const Usage = `Configuration Options:
  password_list_url: URL to download the password list
  password_list_file: Where the downloaded password list is stored (default password_list.txt)
  usernames: Usernames handed to dummy containers (default root, admin, user)
  network_name: Name of the Docker network to create
  production_port_range: Range of ports for main services
    - start, end
  production_update_interval: Interval (in minutes) to update main service ports
  dummy_recycle_interval: Interval (in minutes) to recycle dummy containers
  poll_interval: Interval (in seconds) between scheduler checks (default 10)
  rotation_grace_period: Seconds a new main container runs before the old one is removed (default 10)
  api_listen: Address of the status API, e.g. ":8080" (disabled when empty)
  log_file: Path of the log file (default howls_moving_docker.log)
  log_level: Log level of the log file (default info)
  main_services: List of main services to deploy
    - name: Name of the main service
    - image: Docker image to use
    - ports: Container ports to publish
    - environment: Environment variables for the container
    - volumes: Volume mappings for the container
    - build: Build the image from source (repo_url, dockerfile)
  dummy_services: List of dummy services to deploy
    - name: Name of the dummy service
    - image: Docker image to use
    - min_instances: Minimum number of instances to create
    - max_instances: Maximum number of instances to create
    - port_range: Range of ports for dummy services
    - container_port: Port inside the container (default: same as the host port)
    - environment: Environment variables for the container ({username}, {password} are substituted)
    - volumes: Volume mappings for the container
    - log_monitoring: Log monitoring configuration
      - log_file: Path to the log file in the container
      - success_pattern: Regex pattern to match successful logins (groups: username, source)
      - check_interval: Interval (in seconds) to check logs
    - build: Build the image from source (repo_url, dockerfile)
  volumes: Volume mappings for all services
`
